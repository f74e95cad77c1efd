// Package transport owns the duplex websocket connection to the speech service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/murmur/internal/protocol"
)

const (
	StreamPath         = "/api/v1/voice/stream"
	DefaultQueueFrames = 64
	DefaultDialTimeout = 5 * time.Second
	writeTimeout       = 5 * time.Second
	closeGrace         = time.Second
)

var (
	// ErrTransport wraps dial, read, and write failures plus unexpected closes.
	ErrTransport = errors.New("transport error")
	// ErrBackpressure reports an audio frame dropped on a full send queue.
	ErrBackpressure = errors.New("send queue full")
	// ErrSendClosed reports a send attempted after stop was queued or the connection closed.
	ErrSendClosed = errors.New("send closed")
)

// Config parameterizes one stream connection.
type Config struct {
	BaseURL     string
	Language    string
	SampleRate  int
	Token       string
	QueueFrames int
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// StreamURL derives the websocket endpoint from an http(s) or ws(s) base URL.
func StreamURL(base, language string, sampleRate int, token string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("base URL is required")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base URL %q has no host", base)
	}

	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	q := url.Values{
		"language":    []string{language},
		"sample_rate": []string{strconv.Itoa(sampleRate)},
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// RedactURL hides the token query parameter for logs.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Inbound is one event from the read loop: a decoded message, a protocol error
// wrapping protocol.ErrProtocol, or a terminal error wrapping ErrTransport.
type Inbound struct {
	Message protocol.Message
	Err     error
}

// Conn is a connected stream. Sends are serialized by one writer goroutine;
// no method blocks on network I/O except Close, which waits at most closeGrace.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// queue carries audio frames. CloseSend closes it, and the writer sends
	// the stop message once it has drained.
	queue      chan []byte
	inbound    chan Inbound
	done       chan struct{}
	writerDone chan struct{}

	mu         sync.Mutex
	sendClosed bool

	closeOnce sync.Once
	closing   atomic.Bool
	writeErr  atomic.Pointer[error]
	wg        sync.WaitGroup

	framesSent   atomic.Int64
	bytesSent    atomic.Int64
	framesAfter  atomic.Int64
	stopsSent    atomic.Int64
	stopWritten  chan struct{}
	stopNotified sync.Once
}

// Dial connects to the stream endpoint and starts the reader and writer goroutines.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	target, err := StreamURL(cfg.BaseURL, cfg.Language, cfg.SampleRate, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %d)", ErrTransport, RedactURL(target), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, RedactURL(target), err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Debug("stream connected", "url", RedactURL(target))
	}
	return newConn(ws, cfg), nil
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	size := cfg.QueueFrames
	if size <= 0 {
		size = DefaultQueueFrames
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Conn{
		ws:          ws,
		logger:      logger,
		queue:       make(chan []byte, size),
		inbound:     make(chan Inbound, 8),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		stopWritten: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Inbound delivers server messages in arrival order. It closes after the read loop exits.
func (c *Conn) Inbound() <-chan Inbound {
	return c.inbound
}

// StopWritten closes once the stop control message reached the wire.
func (c *Conn) StopWritten() <-chan struct{} {
	return c.stopWritten
}

// SendAudio queues one encoded frame without blocking. After the writer
// has failed it returns the write error.
func (c *Conn) SendAudio(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return ErrSendClosed
	}
	if err := c.writerErr(); err != nil {
		return err
	}

	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// CloseSend schedules the stop control message behind every queued frame and
// returns without waiting for the wire. No audio is accepted afterwards.
// StopWritten closes once the stop is sent. If the writer already failed,
// its error is returned.
func (c *Conn) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return ErrSendClosed
	}
	c.sendClosed = true
	close(c.queue)
	return c.writerErr()
}

// writerErr reports the writer's failure once it has exited.
func (c *Conn) writerErr() error {
	select {
	case <-c.writerDone:
	default:
		return nil
	}
	if err := c.writeErr.Load(); err != nil {
		return *err
	}
	return ErrSendClosed
}

// Close tears the connection down immediately. Queued frames are discarded.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)

		c.mu.Lock()
		c.sendClosed = true
		c.mu.Unlock()

		// A writer stuck in a stalled write holds the frame lock, so the
		// close frame gives up after closeGrace.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		err = c.ws.Close()
		c.wg.Wait()

		st := c.stats()
		c.logger.Debug("stream closed",
			"frames_sent", st.framesSent,
			"bytes_sent", st.bytesSent,
			"stops_sent", st.stopsSent,
			"frames_after_stop", st.framesAfterStop,
		)
	})
	return err
}

type stats struct {
	framesSent      int64
	bytesSent       int64
	stopsSent       int64
	framesAfterStop int64
}

func (c *Conn) stats() stats {
	return stats{
		framesSent:      c.framesSent.Load(),
		bytesSent:       c.bytesSent.Load(),
		stopsSent:       c.stopsSent.Load(),
		framesAfterStop: c.framesAfter.Load(),
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	defer close(c.writerDone)

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.queue:
			kind, payload := websocket.BinaryMessage, frame
			if !ok {
				kind, payload = websocket.TextMessage, protocol.StopMessage()
			}
			if err := c.write(kind, payload); err != nil {
				// The reader reports the failure once the socket is torn down.
				wrapped := fmt.Errorf("%w: write: %v", ErrTransport, err)
				c.writeErr.Store(&wrapped)
				_ = c.ws.Close()
				return
			}
			if !ok {
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	if kind == websocket.BinaryMessage && c.stopsSent.Load() > 0 {
		c.framesAfter.Add(1)
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(kind, payload); err != nil {
		if c.closing.Load() {
			return nil
		}
		return err
	}

	switch kind {
	case websocket.BinaryMessage:
		c.framesSent.Add(1)
		c.bytesSent.Add(int64(len(payload)))
	case websocket.TextMessage:
		c.stopsSent.Add(1)
		c.stopNotified.Do(func() { close(c.stopWritten) })
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return
			}
			if werr := c.writeErr.Load(); werr != nil {
				c.deliver(Inbound{Err: *werr})
				return
			}
			c.deliver(Inbound{Err: fmt.Errorf("%w: read: %v", ErrTransport, err)})
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are surfaced as ErrProtocol; the consumer decides to ignore them.
			if !c.deliver(Inbound{Err: err}) {
				return
			}
			continue
		}
		if !c.deliver(Inbound{Message: msg}) {
			return
		}
	}
}

// deliver hands one event to the consumer unless the connection is closing.
func (c *Conn) deliver(in Inbound) bool {
	select {
	case c.inbound <- in:
		return true
	case <-c.done:
		return false
	}
}
