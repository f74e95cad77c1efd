// Package protocol defines the JSON messages exchanged with the speech service and the host.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// ErrProtocol marks a malformed or unrecognized server message.
	ErrProtocol = errors.New("protocol error")
	// ErrServer marks an explicit error reported by the speech service.
	ErrServer = errors.New("server error")
)

const (
	TypeStop           = "stop"
	TypeSessionCreated = "session_created"
	TypeNoSpeech       = "no_speech"
	TypeText           = "text"
)

// Message is one decoded server->client control or result frame.
type Message interface {
	messageType() string
}

// SessionCreated finalizes a recording, optionally carrying the transcript.
type SessionCreated struct {
	SessionID  string   `json:"session_id"`
	Transcript string   `json:"transcript,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NoSpeech finalizes a recording in which the service heard nothing.
type NoSpeech struct{}

// Text is a recognition update. Only final updates are authoritative.
type Text struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ServerError is the service's `{"error": "..."}` frame.
type ServerError struct {
	Message string `json:"error"`
}

func (SessionCreated) messageType() string { return TypeSessionCreated }
func (NoSpeech) messageType() string       { return TypeNoSpeech }
func (Text) messageType() string           { return TypeText }
func (ServerError) messageType() string    { return "error" }

// Err returns the server error wrapped in ErrServer.
func (e ServerError) Err() error {
	return fmt.Errorf("%w: %s", ErrServer, e.Message)
}

// Type names a decoded message for logs.
func Type(msg Message) string {
	if msg == nil {
		return ""
	}
	return msg.messageType()
}

type envelope struct {
	Type       string   `json:"type"`
	SessionID  *string  `json:"session_id"`
	Transcript string   `json:"transcript"`
	Text       *string  `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence"`
	Error      *string  `json:"error"`
}

// Decode parses one server text frame. Failures wrap ErrProtocol.
func Decode(data []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty message", ErrProtocol)
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProtocol, err)
	}

	switch env.Type {
	case TypeSessionCreated:
		if env.SessionID == nil {
			return nil, fmt.Errorf("%w: session_created without session_id", ErrProtocol)
		}
		return SessionCreated{
			SessionID:  *env.SessionID,
			Transcript: env.Transcript,
			Confidence: env.Confidence,
		}, nil
	case TypeNoSpeech:
		return NoSpeech{}, nil
	case TypeText:
		if env.Text == nil {
			return nil, fmt.Errorf("%w: text without text field", ErrProtocol)
		}
		return Text{Text: *env.Text, IsFinal: env.IsFinal, Confidence: env.Confidence}, nil
	case "":
		// The service emits recognition results and errors without a type.
		if env.Error != nil {
			return ServerError{Message: *env.Error}, nil
		}
		if env.Text != nil {
			return Text{Text: *env.Text, IsFinal: env.IsFinal, Confidence: env.Confidence}, nil
		}
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrProtocol, env.Type)
	}
}

// StopMessage is the single client->server control frame.
func StopMessage() []byte {
	return []byte(`{"type":"stop"}`)
}
