package protocol

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// PermissionDeniedMessage is the error text hosts match for microphone refusal.
const PermissionDeniedMessage = "microphone_permission_denied"

const (
	NotifySubmit = "submit"
	NotifyCancel = "cancel"
	NotifyError  = "error"
)

// Notification is an outbound message to the embedding host.
type Notification struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func SubmitNotification(text, sessionID string) Notification {
	return Notification{Type: NotifySubmit, Text: text, SessionID: sessionID}
}

func CancelNotification() Notification {
	return Notification{Type: NotifyCancel}
}

func ErrorNotification(message string) Notification {
	return Notification{Type: NotifyError, Message: message}
}

// Host commands accepted from the embedding application.
const (
	CommandOpen    = "open"
	CommandClose   = "close"
	CommandStop    = "stop"
	CommandSubmit  = "submit"
	CommandSetText = "setText"
	CommandTheme   = "setTheme"
	CommandStatus  = "status"
)

// SessionOptions are per-session overrides a host may pass to open.
type SessionOptions struct {
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Token      string `json:"token,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Theme      string `json:"theme,omitempty"`
}

// Command is an inbound host request.
type Command struct {
	Method string          `json:"method"`
	Config *SessionOptions `json:"config,omitempty"`
	Text   *string         `json:"text,omitempty"`
	Theme  string          `json:"theme,omitempty"`
}

// DecodeCommand parses one inbound host frame.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	cmd.Method = strings.TrimSpace(cmd.Method)
	if cmd.Method == "" {
		return Command{}, fmt.Errorf("decode command: missing method")
	}
	return cmd, nil
}

// CommandResult answers one host command.
type CommandResult struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
