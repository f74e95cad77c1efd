package config

import (
	"path/filepath"
	"strings"
)

// Parse reads configuration content as JSONC or YAML, sniffing the format:
// content whose first non-blank character is `{` is JSONC.
func Parse(content string, base Config) (Config, []Warning, error) {
	return parseFile("", content, base)
}

// parseFile prefers the file extension and falls back to sniffing.
func parseFile(path, content string, base Config) (Config, []Warning, error) {
	body := strings.TrimSpace(content)
	if body == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(content, base)
	case ".jsonc", ".json":
		return parseJSONC(content, base)
	}
	if body[0] == '{' {
		return parseJSONC(content, base)
	}
	return parseYAML(content, base)
}
