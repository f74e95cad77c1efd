package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/rbright/murmur/internal/protocol"
)

// LineNotifier writes each notification as one JSON line, for hosts that
// spawn the CLI and read its stdout.
type LineNotifier struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewLineNotifier(w io.Writer) *LineNotifier {
	return &LineNotifier{enc: json.NewEncoder(w)}
}

func (l *LineNotifier) Notify(_ context.Context, n protocol.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(n); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}
