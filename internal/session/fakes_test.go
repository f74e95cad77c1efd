package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/protocol"
	"github.com/rbright/murmur/internal/transport"
)

type fakeSource struct {
	frames chan []float32
	rate   int

	mu      sync.Mutex
	err     error
	stops   atomic.Int32
	dropped atomic.Int64
}

func newFakeSource(rate int) *fakeSource {
	return &fakeSource{frames: make(chan []float32, 64), rate: rate}
}

func (f *fakeSource) Frames() <-chan []float32 { return f.frames }
func (f *fakeSource) SampleRate() int          { return f.rate }

func (f *fakeSource) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSource) Stop() error {
	f.stops.Add(1)
	return nil
}

func (f *fakeSource) FramesDropped() int64 { return f.dropped.Load() }

func (f *fakeSource) halt(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.frames)
}

type fakeStream struct {
	mu        sync.Mutex
	events    []string
	sendErr   error
	stopped   bool
	afterStop int
	stopErr   error

	// closeSendGate, when set, holds CloseSend until it is closed.
	closeSendGate chan struct{}

	inbound     chan transport.Inbound
	stopWritten chan struct{}
	closes      atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		inbound:     make(chan transport.Inbound, 16),
		stopWritten: make(chan struct{}),
	}
}

func (f *fakeStream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		f.afterStop++
		return transport.ErrSendClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.events = append(f.events, "audio")
	return nil
}

func (f *fakeStream) CloseSend() error {
	if f.closeSendGate != nil {
		<-f.closeSendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return transport.ErrSendClosed
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = true
	f.events = append(f.events, "stop")
	close(f.stopWritten)
	return nil
}

func (f *fakeStream) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeStream) Inbound() <-chan transport.Inbound { return f.inbound }
func (f *fakeStream) StopWritten() <-chan struct{}      { return f.stopWritten }

func (f *fakeStream) receive(msg protocol.Message) {
	f.inbound <- transport.Inbound{Message: msg}
}

func (f *fakeStream) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeStream) snapshot() (events []string, afterStop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...), f.afterStop
}

func (f *fakeStream) count(kind string) int {
	events, _ := f.snapshot()
	n := 0
	for _, e := range events {
		if e == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticks  chan time.Time
	after  chan time.Time
	period time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = make(chan time.Time)
	c.period = d
	return c.ticks, func() {}
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.after = make(chan time.Time, 1)
	return c.after
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tick delivers one watchdog tick and reports whether the loop accepted it.
func (c *fakeClock) tick() bool {
	c.mu.Lock()
	ticks := c.ticks
	now := c.now
	c.mu.Unlock()
	if ticks == nil {
		return false
	}
	select {
	case ticks <- now:
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

func (c *fakeClock) fireFinalize(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	after := c.after
	c.mu.Unlock()
	require.NotNil(t, after, "finalize timer was never armed")
	after <- c.Now()
}

type fakeIndicator struct {
	connecting atomic.Int32
	recording  atomic.Int32
	processing atomic.Int32
	noSpeech   atomic.Int32
	errors     atomic.Int32
	hides      atomic.Int32

	mu    sync.Mutex
	theme string
}

func (f *fakeIndicator) ShowConnecting(context.Context)    { f.connecting.Add(1) }
func (f *fakeIndicator) ShowRecording(context.Context)     { f.recording.Add(1) }
func (f *fakeIndicator) ShowProcessing(context.Context)    { f.processing.Add(1) }
func (f *fakeIndicator) ShowNoSpeech(context.Context)      { f.noSpeech.Add(1) }
func (f *fakeIndicator) ShowError(context.Context, string) { f.errors.Add(1) }
func (f *fakeIndicator) Hide(context.Context)              { f.hides.Add(1) }

func (f *fakeIndicator) SetTheme(theme string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.theme = theme
}

func (f *fakeIndicator) Theme() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.theme
}

type harness struct {
	source *fakeSource
	stream *fakeStream
	clock  *fakeClock
	ind    *fakeIndicator
	dials  atomic.Int32
	deps   Deps
}

func newHarness() *harness {
	h := &harness{
		source: newFakeSource(16000),
		stream: newFakeStream(),
		clock:  newFakeClock(),
		ind:    &fakeIndicator{},
	}
	h.deps = Deps{
		Capture: func(context.Context) (FrameSource, error) { return h.source, nil },
		Dial: func(context.Context, Options) (Stream, error) {
			h.dials.Add(1)
			return h.stream, nil
		},
		Indicator: h.ind,
		Clock:     h.clock,
	}
	return h
}

func testOptions() Options {
	return Options{
		Language:   "en-US",
		SampleRate: 16000,
		Token:      "t",
		BaseURL:    "http://127.0.0.1:8000",
	}
}

func waitForState(t *testing.T, s *Session, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == want
	}, 2*time.Second, 2*time.Millisecond, "state never reached %s (now %s)", want, s.Snapshot().State)
}

func waitDone(t *testing.T, s *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := s.Wait(ctx)
	require.NoError(t, err)
	return result
}

func loudFrame() []float32 {
	frame := make([]float32, 1600)
	for i := range frame {
		frame[i] = 0.5
	}
	return frame
}

func silentFrame() []float32 {
	return make([]float32, 1600)
}

// pushFrame feeds one frame and waits until the loop streamed it.
func (h *harness) pushFrame(t *testing.T, frame []float32) {
	t.Helper()
	before := h.stream.count("audio")
	h.source.frames <- frame
	require.Eventually(t, func() bool {
		return h.stream.count("audio") == before+1
	}, time.Second, time.Millisecond)
}
