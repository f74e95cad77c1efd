package config

import (
	"fmt"
	"net/url"
	"strings"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateBaseURL(cfg.Server.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Server.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.dial_timeout_ms must be > 0")
	}
	if cfg.Server.FinalizeTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.finalize_timeout_ms must be > 0")
	}
	if cfg.Server.QueueFrames <= 0 {
		return nil, fmt.Errorf("server.queue_frames must be > 0")
	}
	if strings.TrimSpace(cfg.Session.Language) == "" {
		return nil, fmt.Errorf("session.language must not be empty")
	}
	if cfg.Session.SampleRate < 8000 || cfg.Session.SampleRate > 48000 {
		return nil, fmt.Errorf("session.sample_rate must be between 8000 and 48000")
	}
	if cfg.Audio.FrameSize <= 0 {
		return nil, fmt.Errorf("audio.frame_size must be > 0")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return nil, fmt.Errorf("audio.queue_frames must be > 0")
	}
	if cfg.Audio.StallTimeoutMS <= 0 {
		return nil, fmt.Errorf("audio.stall_timeout_ms must be > 0")
	}
	if cfg.Silence.Threshold <= 0 || cfg.Silence.Threshold >= 1 {
		return nil, fmt.Errorf("silence.threshold must be in (0, 1)")
	}
	if cfg.Silence.TimeoutMS <= 0 {
		return nil, fmt.Errorf("silence.timeout_ms must be > 0")
	}
	if cfg.Silence.CheckIntervalMS <= 0 {
		return nil, fmt.Errorf("silence.check_interval_ms must be > 0")
	}
	if cfg.Silence.CheckIntervalMS > cfg.Silence.TimeoutMS {
		warnings = append(warnings, Warning{Message: "silence.check_interval_ms exceeds silence.timeout_ms; silence detection will lag"})
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard_cmd must not be empty")
	}

	if cfg.Paste.Enable && cfg.PasteCmd.Raw != "" && len(cfg.PasteCmd.Argv) == 0 {
		return nil, fmt.Errorf("paste_cmd is configured but empty")
	}
	if cfg.Paste.Enable && len(cfg.PasteCmd.Argv) == 0 && strings.TrimSpace(cfg.Paste.Shortcut) == "" {
		return nil, fmt.Errorf("paste.shortcut must not be empty when paste.enable=true and paste_cmd is unset")
	}

	if strings.TrimSpace(cfg.Bridge.Listen) == "" {
		return nil, fmt.Errorf("bridge.listen must not be empty")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Bridge.Path), "/") {
		return nil, fmt.Errorf("bridge.path must start with '/'")
	}
	if !logLevels[strings.ToLower(strings.TrimSpace(cfg.Log.Level))] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if strings.TrimSpace(cfg.Auth.Token) == "" && strings.TrimSpace(cfg.Auth.TokenEnv) == "" {
		warnings = append(warnings, Warning{Message: "neither auth.token nor auth.token_env is set; streams will be unauthenticated"})
	}

	return warnings, nil
}

func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("server.base_url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("server.base_url scheme must be http, https, ws, or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("server.base_url must include a host")
	}
	return nil
}
