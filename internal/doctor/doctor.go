// Package doctor runs runtime readiness diagnostics for config, tools, audio, and the speech service.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/transport"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	if cfg.Config.Indicator.Enable && !strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
		checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
	}

	checks = append(checks, checkCommand(cfg.Config.Clipboard.Argv, "clipboard_cmd"))

	if cfg.Config.Paste.Enable {
		if len(cfg.Config.PasteCmd.Argv) > 0 {
			checks = append(checks, checkCommand(cfg.Config.PasteCmd.Argv, "paste_cmd"))
		} else {
			checks = append(checks, checkBinary("hyprctl", "default paste path requires hyprctl"))
		}
	}

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkStreamURL(cfg.Config))
	checks = append(checks, checkToken(cfg, time.Now()))
	if strings.TrimSpace(cfg.Config.Server.HealthGRPC) != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		checks = append(checks, checkGRPCHealth(ctx, cfg.Config.Server.HealthGRPC))
		cancel()
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return Check{Name: "audio.device", Pass: false, Message: "microphone access denied by the audio server"}
		}
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkStreamURL validates that the configured base URL yields a stream endpoint.
func checkStreamURL(cfg config.Config) Check {
	target, err := transport.StreamURL(cfg.Server.BaseURL, cfg.Session.Language, cfg.Session.SampleRate, "")
	if err != nil {
		return Check{Name: "server.base_url", Pass: false, Message: err.Error()}
	}
	return Check{Name: "server.base_url", Pass: true, Message: fmt.Sprintf("streams to %s", target)}
}

// checkToken resolves the stream token and, for JWTs, reports expiry. The
// signature is the server's concern and is not verified here.
func checkToken(cfg config.Loaded, now time.Time) Check {
	token, err := cfg.Token()
	if err != nil {
		return Check{Name: "auth.token", Pass: false, Message: err.Error()}
	}
	if strings.Count(token, ".") != 2 {
		return Check{Name: "auth.token", Pass: true, Message: "opaque token configured"}
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return Check{Name: "auth.token", Pass: false, Message: fmt.Sprintf("malformed JWT: %v", err)}
	}
	if _, ok := claims["exp"]; !ok {
		return Check{Name: "auth.token", Pass: true, Message: "JWT without expiry"}
	}
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return Check{Name: "auth.token", Pass: false, Message: "JWT has expired"}
	}

	expiry := claimTime(claims["exp"])
	return Check{
		Name:    "auth.token",
		Pass:    true,
		Message: fmt.Sprintf("JWT valid for %s", expiry.Sub(now).Truncate(time.Second)),
	}
}

func claimTime(v any) time.Time {
	switch exp := v.(type) {
	case float64:
		return time.Unix(int64(exp), 0)
	case int64:
		return time.Unix(exp, 0)
	default:
		return time.Time{}
	}
}
