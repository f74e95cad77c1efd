package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissingToken reports that no stream token could be resolved.
var ErrMissingToken = errors.New("no auth token configured")

// envFilePath resolves auth.env_file relative to the config file directory.
// An unset env_file defaults to `.env` beside the config file.
func envFilePath(cfg Config, configPath string) string {
	name := strings.TrimSpace(cfg.Auth.EnvFile)
	if name == "" {
		name = ".env"
	}
	if filepath.IsAbs(name) || strings.TrimSpace(configPath) == "" {
		return name
	}
	return filepath.Join(filepath.Dir(configPath), name)
}

// ResolveToken returns the auth token from config, process env, or the dotenv file, in that order.
func ResolveToken(cfg Config, configPath string) (string, error) {
	if token := strings.TrimSpace(cfg.Auth.Token); token != "" {
		return token, nil
	}

	key := strings.TrimSpace(cfg.Auth.TokenEnv)
	if key == "" {
		return "", ErrMissingToken
	}
	if token := strings.TrimSpace(os.Getenv(key)); token != "" {
		return token, nil
	}

	path := envFilePath(cfg, configPath)
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: set %s", ErrMissingToken, key)
		}
		return "", fmt.Errorf("read env file %q: %w", path, err)
	}
	if token := strings.TrimSpace(values[key]); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%w: set %s", ErrMissingToken, key)
}
