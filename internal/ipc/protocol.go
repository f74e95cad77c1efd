package ipc

// Commands accepted by the owner process.
const (
	CommandRecord  = "record"
	CommandStop    = "stop"
	CommandCancel  = "cancel"
	CommandSubmit  = "submit"
	CommandSetText = "set-text"
	CommandTheme   = "theme"
	CommandStatus  = "status"
)

// Request is one JSON line sent by a CLI invocation.
type Request struct {
	Command string  `json:"command"`
	Text    *string `json:"text,omitempty"`
	Theme   string  `json:"theme,omitempty"`
}

// Response answers one Request.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Theme     string `json:"theme,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
