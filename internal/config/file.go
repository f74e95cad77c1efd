package config

import (
	"fmt"
	"strings"
)

// fileConfig is the on-disk shape shared by the JSONC and YAML formats.
// Pointer fields distinguish "unset" from zero values.
type fileConfig struct {
	Server    *fileServer    `json:"server" yaml:"server"`
	Auth      *fileAuth      `json:"auth" yaml:"auth"`
	Session   *fileSession   `json:"session" yaml:"session"`
	Audio     *fileAudio     `json:"audio" yaml:"audio"`
	Silence   *fileSilence   `json:"silence" yaml:"silence"`
	Submit    *fileSubmit    `json:"submit" yaml:"submit"`
	Paste     *filePaste     `json:"paste" yaml:"paste"`
	Indicator *fileIndicator `json:"indicator" yaml:"indicator"`
	Bridge    *fileBridge    `json:"bridge" yaml:"bridge"`
	Log       *fileLog       `json:"log" yaml:"log"`
	Debug     *fileDebug     `json:"debug" yaml:"debug"`

	ClipboardCmd *string `json:"clipboard_cmd" yaml:"clipboard_cmd"`
	PasteCmd     *string `json:"paste_cmd" yaml:"paste_cmd"`
}

type fileServer struct {
	BaseURL           *string `json:"base_url" yaml:"base_url"`
	HealthGRPC        *string `json:"health_grpc" yaml:"health_grpc"`
	DialTimeoutMS     *int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	FinalizeTimeoutMS *int    `json:"finalize_timeout_ms" yaml:"finalize_timeout_ms"`
	QueueFrames       *int    `json:"queue_frames" yaml:"queue_frames"`
}

type fileAuth struct {
	Token    *string `json:"token" yaml:"token"`
	TokenEnv *string `json:"token_env" yaml:"token_env"`
	EnvFile  *string `json:"env_file" yaml:"env_file"`
}

type fileSession struct {
	Language   *string `json:"language" yaml:"language"`
	SampleRate *int    `json:"sample_rate" yaml:"sample_rate"`
	Theme      *string `json:"theme" yaml:"theme"`
}

type fileAudio struct {
	Input          *string `json:"input" yaml:"input"`
	Fallback       *string `json:"fallback" yaml:"fallback"`
	FrameSize      *int    `json:"frame_size" yaml:"frame_size"`
	QueueFrames    *int    `json:"queue_frames" yaml:"queue_frames"`
	StallTimeoutMS *int    `json:"stall_timeout_ms" yaml:"stall_timeout_ms"`
}

type fileSilence struct {
	Threshold       *float64 `json:"threshold" yaml:"threshold"`
	TimeoutMS       *int     `json:"timeout_ms" yaml:"timeout_ms"`
	CheckIntervalMS *int     `json:"check_interval_ms" yaml:"check_interval_ms"`
}

type fileSubmit struct {
	Auto *bool `json:"auto" yaml:"auto"`
}

type filePaste struct {
	Enable   *bool   `json:"enable" yaml:"enable"`
	Shortcut *string `json:"shortcut" yaml:"shortcut"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable" yaml:"enable"`
	Backend        *string `json:"backend" yaml:"backend"`
	DesktopAppName *string `json:"desktop_app_name" yaml:"desktop_app_name"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms" yaml:"error_timeout_ms"`
}

type fileBridge struct {
	Listen *string `json:"listen" yaml:"listen"`
	Path   *string `json:"path" yaml:"path"`
}

type fileLog struct {
	Level *string `json:"level" yaml:"level"`
}

type fileDebug struct {
	AudioDump   *bool `json:"audio_dump" yaml:"audio_dump"`
	MessageDump *bool `json:"message_dump" yaml:"message_dump"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (payload fileConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if s := payload.Server; s != nil {
		setString(&cfg.Server.BaseURL, s.BaseURL)
		setString(&cfg.Server.HealthGRPC, s.HealthGRPC)
		setInt(&cfg.Server.DialTimeoutMS, s.DialTimeoutMS)
		setInt(&cfg.Server.FinalizeTimeoutMS, s.FinalizeTimeoutMS)
		setInt(&cfg.Server.QueueFrames, s.QueueFrames)
	}

	if a := payload.Auth; a != nil {
		if a.Token != nil {
			cfg.Auth.Token = *a.Token
			warnings = append(warnings, Warning{Message: "auth.token stores a secret in the config file; prefer auth.token_env"})
		}
		setString(&cfg.Auth.TokenEnv, a.TokenEnv)
		setString(&cfg.Auth.EnvFile, a.EnvFile)
	}

	if s := payload.Session; s != nil {
		setString(&cfg.Session.Language, s.Language)
		setInt(&cfg.Session.SampleRate, s.SampleRate)
		setString(&cfg.Session.Theme, s.Theme)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.FrameSize, a.FrameSize)
		setInt(&cfg.Audio.QueueFrames, a.QueueFrames)
		setInt(&cfg.Audio.StallTimeoutMS, a.StallTimeoutMS)
	}

	if s := payload.Silence; s != nil {
		if s.Threshold != nil {
			cfg.Silence.Threshold = *s.Threshold
		}
		setInt(&cfg.Silence.TimeoutMS, s.TimeoutMS)
		setInt(&cfg.Silence.CheckIntervalMS, s.CheckIntervalMS)
	}

	if payload.Submit != nil {
		setBool(&cfg.Submit.Auto, payload.Submit.Auto)
	}

	if p := payload.Paste; p != nil {
		setBool(&cfg.Paste.Enable, p.Enable)
		setString(&cfg.Paste.Shortcut, p.Shortcut)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if b := payload.Bridge; b != nil {
		setString(&cfg.Bridge.Listen, b.Listen)
		setString(&cfg.Bridge.Path, b.Path)
	}

	if payload.Log != nil {
		setString(&cfg.Log.Level, payload.Log.Level)
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setBool(&cfg.Debug.EnableMessageDump, d.MessageDump)
	}

	if payload.ClipboardCmd != nil {
		raw := *payload.ClipboardCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.PasteCmd != nil {
		raw := *payload.PasteCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid paste_cmd: %w", err)
		}
		cfg.PasteCmd = CommandConfig{Raw: raw, Argv: argv}
	}

	return warnings, nil
}

// finish applies a decoded payload and validates the result.
func finish(payload fileConfig, base Config) (Config, []Warning, error) {
	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}
