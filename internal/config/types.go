// Package config resolves, parses, validates, and defaults murmur configuration.
package config

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Session   SessionConfig
	Audio     AudioConfig
	Silence   SilenceConfig
	Submit    SubmitConfig
	Paste     PasteConfig
	Indicator IndicatorConfig
	Clipboard CommandConfig
	PasteCmd  CommandConfig
	Bridge    BridgeConfig
	Log       LogConfig
	Debug     DebugConfig
}

// ServerConfig locates the speech service.
type ServerConfig struct {
	BaseURL           string
	HealthGRPC        string
	DialTimeoutMS     int
	FinalizeTimeoutMS int
	QueueFrames       int
}

// AuthConfig controls where the stream token comes from.
// Token wins over TokenEnv; EnvFile is read with dotenv syntax when present.
type AuthConfig struct {
	Token    string
	TokenEnv string
	EnvFile  string
}

// SessionConfig is the per-session defaults a host may override on open.
type SessionConfig struct {
	Language   string
	SampleRate int
	Theme      string
}

// AudioConfig controls input-source selection and capture framing.
type AudioConfig struct {
	Input          string
	Fallback       string
	FrameSize      int
	QueueFrames    int
	StallTimeoutMS int
}

// SilenceConfig tunes the silence watchdog.
type SilenceConfig struct {
	Threshold       float64
	TimeoutMS       int
	CheckIntervalMS int
}

// SubmitConfig controls what happens to a finalized transcript.
type SubmitConfig struct {
	Auto bool
}

// PasteConfig controls post-submit paste behavior.
type PasteConfig struct {
	Enable   bool
	Shortcut string
}

// IndicatorConfig controls visual indicator behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// BridgeConfig controls the host bridge server started by `murmur serve`.
type BridgeConfig struct {
	Listen string
	Path   string
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump   bool
	EnableMessageDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
