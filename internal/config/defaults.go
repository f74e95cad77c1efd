package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Server: ServerConfig{
			BaseURL:           "http://127.0.0.1:8000",
			DialTimeoutMS:     5000,
			FinalizeTimeoutMS: 20000,
			QueueFrames:       64,
		},
		Auth: AuthConfig{TokenEnv: "MURMUR_TOKEN"},
		Session: SessionConfig{
			Language:   "en-US",
			SampleRate: 16000,
			Theme:      "dark",
		},
		Audio: AudioConfig{
			Input:          "default",
			Fallback:       "default",
			FrameSize:      4096,
			QueueFrames:    16,
			StallTimeoutMS: 3000,
		},
		Silence: SilenceConfig{
			Threshold:       0.01,
			TimeoutMS:       2000,
			CheckIntervalMS: 500,
		},
		Submit: SubmitConfig{Auto: true},
		Paste:  PasteConfig{Enable: true, Shortcut: "CTRL,V"},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "murmur-indicator",
			ErrorTimeoutMS: 1600,
		},
		Clipboard: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		Bridge:    BridgeConfig{Listen: "127.0.0.1:7777", Path: "/bridge"},
		Log:       LogConfig{Level: "info"},
	}
}
