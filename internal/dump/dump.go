// Package dump writes per-session debug artifacts: sent audio as WAV and server traffic as JSONL.
package dump

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	json "github.com/goccy/go-json"

	"github.com/rbright/murmur/internal/dsp"
	"github.com/rbright/murmur/internal/logging"
)

// Options selects which artifacts are written. Dir defaults to the state debug dir.
type Options struct {
	Dir      string
	Audio    bool
	Messages bool
}

// Enabled reports whether any artifact is requested.
func (o Options) Enabled() bool {
	return o.Audio || o.Messages
}

// Recorder owns the open artifact files of one session. A nil *Recorder is a no-op.
type Recorder struct {
	mu sync.Mutex

	audioFile *os.File
	encoder   *wav.Encoder
	format    *audio.Format
	samples   int

	messageFile *os.File
	messages    *json.Encoder
	now         func() time.Time
}

// Open creates the requested artifacts named after label. It returns nil when nothing is enabled.
func Open(opts Options, label string, sampleRate int) (*Recorder, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		stateDir, err := logging.StateDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(stateDir, "debug")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	rec := &Recorder{now: time.Now}
	stamp := time.Now().Format("20060102-150405.000")

	if opts.Audio {
		file, err := createFile(dir, fmt.Sprintf("audio-%s-%s.wav", stamp, label))
		if err != nil {
			return nil, err
		}
		rec.audioFile = file
		rec.encoder = wav.NewEncoder(file, sampleRate, 16, 1, 1)
		rec.format = &audio.Format{NumChannels: 1, SampleRate: sampleRate}
	}

	if opts.Messages {
		file, err := createFile(dir, fmt.Sprintf("messages-%s-%s.jsonl", stamp, label))
		if err != nil {
			_ = rec.Close()
			return nil, err
		}
		rec.messageFile = file
		rec.messages = json.NewEncoder(file)
	}

	return rec, nil
}

// AudioPath returns the WAV artifact path, if any.
func (r *Recorder) AudioPath() string {
	if r == nil || r.audioFile == nil {
		return ""
	}
	return r.audioFile.Name()
}

// MessagesPath returns the JSONL artifact path, if any.
func (r *Recorder) MessagesPath() string {
	if r == nil || r.messageFile == nil {
		return ""
	}
	return r.messageFile.Name()
}

// WriteAudio appends one little-endian PCM16 frame to the WAV artifact.
func (r *Recorder) WriteAudio(pcm []byte) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil || len(pcm) == 0 {
		return nil
	}

	buf := &audio.IntBuffer{Format: r.format, Data: dsp.PCM16Samples(pcm), SourceBitDepth: 16}
	if err := r.encoder.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	r.samples += len(buf.Data)
	return nil
}

type messageLine struct {
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
}

// WriteMessage appends one protocol event to the JSONL artifact.
func (r *Recorder) WriteMessage(direction, kind string, payload any) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		return nil
	}

	line := messageLine{Time: r.now().UTC(), Direction: direction, Type: kind, Payload: payload}
	if err := r.messages.Encode(line); err != nil {
		return fmt.Errorf("write message dump: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes every artifact.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.encoder != nil {
		if err := r.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close wav encoder: %w", err))
		}
		r.encoder = nil
	}
	if r.audioFile != nil {
		if err := r.audioFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.messageFile != nil {
		if err := r.messageFile.Close(); err != nil {
			errs = append(errs, err)
		}
		r.messages = nil
	}
	return errors.Join(errs...)
}

func createFile(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}
