// Package session runs one streaming recognition session and coordinates its
// outcome with the embedding host.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/dsp"
	"github.com/rbright/murmur/internal/dump"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/protocol"
	"github.com/rbright/murmur/internal/transport"
	"github.com/rbright/murmur/internal/watchdog"
)

const DefaultFinalizeTimeout = 20 * time.Second

var (
	// ErrFinalizeTimeout reports that the service never finalized after stop.
	ErrFinalizeTimeout = errors.New("finalization timed out")
	// ErrSessionDone is returned for control requests sent after the session ended.
	ErrSessionDone = errors.New("session finished")
	ErrNotStarted  = errors.New("session not started")
	ErrStarted     = errors.New("session already started")
)

// Options is the immutable configuration of one session.
type Options struct {
	Language        string
	SampleRate      int
	Token           string
	BaseURL         string
	Theme           string
	Silence         watchdog.Config
	FinalizeTimeout time.Duration
	Dump            dump.Options
}

// FrameSource is a running microphone capture.
type FrameSource interface {
	Frames() <-chan []float32
	SampleRate() int
	Err() error
	Stop() error
	// FramesDropped counts frames the capture discarded before the session read them.
	FramesDropped() int64
}

// Stream is a connected recognition transport. The session calls CloseSend
// off its loop, so a transport that blocks there delays the stop but never
// a cancel.
type Stream interface {
	SendAudio([]byte) error
	CloseSend() error
	Close() error
	Inbound() <-chan transport.Inbound
	StopWritten() <-chan struct{}
}

// CaptureFunc starts microphone capture.
type CaptureFunc func(context.Context) (FrameSource, error)

// DialFunc connects the recognition transport for one session.
type DialFunc func(context.Context, Options) (Stream, error)

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowConnecting(context.Context)
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowNoSpeech(context.Context)
	ShowError(context.Context, string)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowConnecting(context.Context)    {}
func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowProcessing(context.Context)    {}
func (noopIndicator) ShowNoSpeech(context.Context)      {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) Hide(context.Context)              {}

// Deps are the collaborators a session drives.
type Deps struct {
	Capture   CaptureFunc
	Dial      DialFunc
	Indicator Indicator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     Clock
}

func (d Deps) withDefaults() Deps {
	if d.Indicator == nil {
		d.Indicator = noopIndicator{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Dial == nil {
		d.Dial = func(context.Context, Options) (Stream, error) {
			return nil, fmt.Errorf("%w: no dialer configured", transport.ErrTransport)
		}
	}
	if d.Capture == nil {
		d.Capture = func(context.Context) (FrameSource, error) {
			return nil, fmt.Errorf("%w: no capture configured", audio.ErrDeviceUnavailable)
		}
	}
	return d
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	CorrelationID string
	SessionID     string
	State         fsm.State
	Transcript    string
	CreatedAt     time.Time
	LastSoundAt   time.Time
}

// Result is the terminal outcome of one session.
type Result struct {
	Snapshot
	Err            error
	FinishedAt     time.Time
	FramesCaptured int64
	FramesSent     int64
	FramesDropped  int64
	CaptureDropped int64
	BytesSent      int64
	AudioPath      string
	MessagesPath   string
}

type controlKind int

const (
	controlStop controlKind = iota + 1
	controlCancel
	controlSetText
)

type control struct {
	kind  controlKind
	text  string
	reply chan error
}

type dialResult struct {
	stream Stream
	err    error
}

// Session owns capture, transport, and watchdog for one recording. All state
// below mu is written only by the run goroutine.
type Session struct {
	opts   Options
	deps   Deps
	logger *slog.Logger

	control chan control
	done    chan struct{}
	started atomic.Bool

	mu     sync.RWMutex
	snap   Snapshot
	result Result

	ctx         context.Context
	watchdog    *watchdog.Watchdog
	recorder    *dump.Recorder
	source      FrameSource
	frames      <-chan []float32
	stream      Stream
	inbound     <-chan transport.Inbound
	stopWritten <-chan struct{}
	stopQueued  chan error
	dialed      chan dialResult
	dialWait    <-chan dialResult
	dialCancel  context.CancelFunc
	tick        <-chan time.Time
	stopTick    func()
	finalize    <-chan time.Time
	stoppedAt   time.Time
	err         error

	framesCaptured int64
	framesSent     int64
	framesDropped  int64
	captureDropped int64
	bytesSent      int64

	captureOnce sync.Once
	streamOnce  sync.Once
}

// New prepares a session in the idle state.
func New(opts Options, deps Deps) *Session {
	deps = deps.withDefaults()
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = DefaultFinalizeTimeout
	}

	id := uuid.NewString()
	return &Session{
		opts:     opts,
		deps:     deps,
		logger:   deps.Logger.With("session", id),
		control:  make(chan control, 4),
		done:     make(chan struct{}),
		watchdog: watchdog.New(opts.Silence),
		snap: Snapshot{
			CorrelationID: id,
			State:         fsm.StateIdle,
			CreatedAt:     deps.Clock.Now(),
		},
	}
}

// Options returns the configuration the session was created with.
func (s *Session) Options() Options {
	return s.opts
}

// Start launches the session loop. ctx bounds the whole session; cancelling
// it cancels the session.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	go s.run(ctx)
	return nil
}

// Stop requests a graceful stop. It is valid only while recording; repeated
// stops while already stopping are accepted.
func (s *Session) Stop() error {
	return s.send(control{kind: controlStop})
}

// Cancel abandons the session without sending the stop message.
func (s *Session) Cancel() error {
	return s.send(control{kind: controlCancel})
}

// SetText overrides the displayed transcript.
func (s *Session) SetText(text string) error {
	return s.send(control{kind: controlSetText, text: text})
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Done closes after the session reached a terminal state and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the terminal outcome. It is the zero value until Done closes.
func (s *Session) Result() Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) send(c control) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	c.reply = make(chan error, 1)

	select {
	case s.control <- c:
	case <-s.done:
		return ErrSessionDone
	}

	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		// The loop replies before it exits.
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrSessionDone
		}
	}
}

func (s *Session) run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)
	defer s.teardown()

	s.deps.Metrics.SessionStarted()
	if err := s.apply(fsm.EventStart); err != nil {
		s.fail(err)
		return
	}
	s.deps.Indicator.ShowConnecting(ctx)
	s.openRecorder()

	source, err := s.deps.Capture(ctx)
	if err != nil {
		s.fail(fmt.Errorf("start capture: %w", err))
		return
	}
	s.source = source
	s.frames = source.Frames()

	dialCtx, cancel := context.WithCancel(ctx)
	s.dialCancel = cancel
	s.dialed = make(chan dialResult, 1)
	s.dialWait = s.dialed
	go func(opts Options) {
		stream, err := s.deps.Dial(dialCtx, opts)
		s.dialed <- dialResult{stream: stream, err: err}
	}(s.opts)

	for !s.snap.State.Terminal() {
		// Control first so cancel is never starved by audio.
		select {
		case c := <-s.control:
			s.handleControl(c)
			continue
		default:
		}

		select {
		case c := <-s.control:
			s.handleControl(c)
		case res := <-s.dialWait:
			s.handleDial(res)
		case frame, ok := <-s.frames:
			s.handleFrame(frame, ok)
		case in, ok := <-s.inbound:
			s.handleInbound(in, ok)
		case err := <-s.stopQueued:
			s.stopQueued = nil
			if err != nil {
				s.fail(fmt.Errorf("queue stop: %w", err))
			}
		case <-s.stopWritten:
			s.stopWritten = nil
			if err := s.apply(fsm.EventStopSent); err != nil {
				s.logger.Debug("stop written after finalization", "error", err)
			}
		case now := <-s.tick:
			s.checkSilence(now)
		case <-s.finalize:
			s.fail(fmt.Errorf("%w after %s", ErrFinalizeTimeout, s.opts.FinalizeTimeout))
		case <-ctx.Done():
			if err := s.apply(fsm.EventCancel); err == nil {
				s.err = ctx.Err()
				s.logger.Info("session cancelled by context")
			}
		}
	}
}

func (s *Session) handleControl(c control) {
	switch c.kind {
	case controlStop:
		switch s.snap.State {
		case fsm.StateStopping, fsm.StateProcessing:
			c.reply <- nil
			return
		}
		c.reply <- s.beginStop(fsm.EventStop)
	case controlCancel:
		err := s.apply(fsm.EventCancel)
		if err == nil {
			s.logger.Info("session cancelled")
		}
		c.reply <- err
	case controlSetText:
		s.setTranscript(c.text)
		c.reply <- nil
	default:
		c.reply <- fmt.Errorf("unknown control %d", c.kind)
	}
}

func (s *Session) handleDial(res dialResult) {
	s.dialWait = nil
	if res.err != nil {
		s.fail(fmt.Errorf("connect: %w", res.err))
		return
	}

	s.stream = res.stream
	if err := s.apply(fsm.EventTransportOpen); err != nil {
		s.logger.Warn("transport opened in unexpected state", "error", err)
		return
	}
	s.inbound = res.stream.Inbound()

	now := s.deps.Clock.Now()
	s.watchdog.Arm(now)
	s.setLastSound(now)
	s.tick, s.stopTick = s.deps.Clock.Ticker(s.watchdog.Config().CheckInterval)
	s.deps.Indicator.ShowRecording(s.ctx)
	s.logger.Info("recording started", "language", s.opts.Language, "sample_rate", s.opts.SampleRate)
}

func (s *Session) handleFrame(frame []float32, ok bool) {
	if !ok {
		s.frames = nil
		err := s.source.Err()
		if err == nil {
			err = audio.ErrDeviceUnavailable
		}
		s.fail(fmt.Errorf("capture halted: %w", err))
		return
	}

	s.framesCaptured++
	s.deps.Metrics.FrameCaptured()
	if s.snap.State != fsm.StateRecording {
		// Audio before the transport opens is not streamed.
		return
	}

	now := s.deps.Clock.Now()
	if s.watchdog.Observe(dsp.RMS(frame), now) {
		s.setLastSound(now)
	}

	pcm := dsp.QuantizePCM16(dsp.Resample(frame, s.source.SampleRate(), s.opts.SampleRate))
	err := s.stream.SendAudio(pcm)
	switch {
	case err == nil:
		s.framesSent++
		s.bytesSent += int64(len(pcm))
		s.deps.Metrics.FrameQueued(len(pcm))
		if err := s.recorder.WriteAudio(pcm); err != nil {
			s.logger.Debug("audio dump write failed", "error", err)
		}
	case errors.Is(err, transport.ErrBackpressure):
		s.framesDropped++
		s.deps.Metrics.FrameDropped()
		s.logger.Warn("audio frame dropped", "dropped", s.framesDropped)
	default:
		// A closed send side surfaces through the inbound channel.
		s.logger.Debug("audio frame not sent", "error", err)
	}
}

func (s *Session) handleInbound(in transport.Inbound, ok bool) {
	if !ok {
		s.inbound = nil
		s.fail(fmt.Errorf("%w: connection closed by server", transport.ErrTransport))
		return
	}
	if in.Err != nil {
		if errors.Is(in.Err, protocol.ErrProtocol) {
			s.deps.Metrics.ProtocolError()
			s.logger.Warn("ignoring malformed server message", "error", in.Err)
			return
		}
		s.fail(in.Err)
		return
	}

	kind := protocol.Type(in.Message)
	s.deps.Metrics.ServerMessage(kind)
	if err := s.recorder.WriteMessage("in", kind, in.Message); err != nil {
		s.logger.Debug("message dump write failed", "error", err)
	}

	switch msg := in.Message.(type) {
	case protocol.SessionCreated:
		s.finish(fsm.EventSessionCreated, func(snap *Snapshot) {
			snap.SessionID = msg.SessionID
			if strings.TrimSpace(msg.Transcript) != "" {
				snap.Transcript = msg.Transcript
			}
		})
	case protocol.NoSpeech:
		s.finish(fsm.EventNoSpeech, func(snap *Snapshot) {
			snap.Transcript = ""
		})
	case protocol.Text:
		if !msg.IsFinal {
			s.logger.Debug("interim text discarded", "chars", len(msg.Text))
			return
		}
		s.setTranscript(msg.Text)
	case protocol.ServerError:
		s.fail(msg.Err())
	default:
		s.logger.Warn("ignoring unhandled server message", "type", kind)
	}
}

// finish applies a server finalization event.
func (s *Session) finish(event fsm.Event, update func(*Snapshot)) {
	if err := s.apply(event); err != nil {
		s.logger.Warn("ignoring server message", "event", event, "error", err)
		return
	}

	s.mu.Lock()
	update(&s.snap)
	s.mu.Unlock()

	if !s.stoppedAt.IsZero() {
		s.deps.Metrics.Finalized(s.deps.Clock.Now().Sub(s.stoppedAt))
	}
	s.logger.Info("session finalized", "state", s.snap.State, "session_id", s.snap.SessionID)
}

func (s *Session) beginStop(event fsm.Event) error {
	if err := s.apply(event); err != nil {
		return err
	}

	s.watchdog.Disarm()
	s.stopTicker()
	s.stopCapture()
	s.frames = nil

	s.stopQueued = make(chan error, 1)
	go func(stream Stream, queued chan<- error) {
		queued <- stream.CloseSend()
	}(s.stream, s.stopQueued)
	s.stopWritten = s.stream.StopWritten()
	s.stoppedAt = s.deps.Clock.Now()
	s.finalize = s.deps.Clock.After(s.opts.FinalizeTimeout)

	if err := s.recorder.WriteMessage("out", protocol.TypeStop, nil); err != nil {
		s.logger.Debug("message dump write failed", "error", err)
	}
	s.deps.Indicator.ShowProcessing(s.ctx)
	s.logger.Info("stop queued", "event", event, "frames_sent", s.framesSent)
	return nil
}

func (s *Session) checkSilence(now time.Time) {
	if s.snap.State != fsm.StateRecording || !s.watchdog.Expired(now) {
		return
	}
	s.deps.Metrics.SilenceTimeout()
	s.logger.Info("silence timeout", "last_sound_at", s.watchdog.LastSoundAt())
	if err := s.beginStop(fsm.EventSilenceTimeout); err != nil {
		s.logger.Warn("silence stop rejected", "error", err)
	}
}

func (s *Session) apply(event fsm.Event) error {
	next, err := fsm.Transition(s.snap.State, event)
	if err != nil {
		return err
	}
	s.logger.Debug("session transition", "from", s.snap.State, "event", event, "state", next)

	s.mu.Lock()
	s.snap.State = next
	s.mu.Unlock()
	return nil
}

func (s *Session) fail(err error) {
	if terr := s.apply(fsm.EventFail); terr != nil {
		s.logger.Debug("failure after terminal state", "error", err)
		return
	}
	s.err = err
	s.logger.Error("session failed", "error", err)
}

func (s *Session) setTranscript(text string) {
	s.mu.Lock()
	s.snap.Transcript = text
	s.mu.Unlock()
}

func (s *Session) setLastSound(at time.Time) {
	s.mu.Lock()
	s.snap.LastSoundAt = at
	s.mu.Unlock()
}

func (s *Session) openRecorder() {
	rec, err := dump.Open(s.opts.Dump, s.snap.CorrelationID, s.opts.SampleRate)
	if err != nil {
		s.logger.Warn("debug dump disabled", "error", err)
		return
	}
	s.recorder = rec
}

func (s *Session) stopTicker() {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	s.tick = nil
}

func (s *Session) stopCapture() {
	if s.source == nil {
		return
	}
	s.captureOnce.Do(func() {
		if err := s.source.Stop(); err != nil {
			s.logger.Debug("capture stop failed", "error", err)
		}
		s.captureDropped = s.source.FramesDropped()
		if s.captureDropped > 0 {
			s.deps.Metrics.CaptureDropped(s.captureDropped)
			s.logger.Warn("capture dropped frames", "dropped", s.captureDropped)
		}
	})
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	s.streamOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
	})
}

// teardown releases every resource on every exit path.
func (s *Session) teardown() {
	s.watchdog.Disarm()
	s.stopTicker()
	s.finalize = nil
	s.stopCapture()
	s.closeStream()

	if s.dialCancel != nil {
		s.dialCancel()
	}
	if s.dialWait != nil {
		// A dial that completes after the session ended is closed unused.
		go func(ch <-chan dialResult) {
			if res := <-ch; res.stream != nil {
				_ = res.stream.Close()
			}
		}(s.dialWait)
	}

	if err := s.recorder.Close(); err != nil {
		s.logger.Debug("debug dump close failed", "error", err)
	}

	uiCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	switch s.snap.State {
	case fsm.StateNoSpeech:
		s.deps.Indicator.ShowNoSpeech(uiCtx)
	case fsm.StateFailed:
		s.deps.Indicator.ShowError(uiCtx, "")
	default:
		s.deps.Indicator.Hide(uiCtx)
	}

	now := s.deps.Clock.Now()
	s.mu.Lock()
	s.result = Result{
		Snapshot:       s.snap,
		Err:            s.err,
		FinishedAt:     now,
		FramesCaptured: s.framesCaptured,
		FramesSent:     s.framesSent,
		FramesDropped:  s.framesDropped,
		CaptureDropped: s.captureDropped,
		BytesSent:      s.bytesSent,
		AudioPath:      s.recorder.AudioPath(),
		MessagesPath:   s.recorder.MessagesPath(),
	}
	s.mu.Unlock()

	s.deps.Metrics.SessionFinished(string(s.snap.State), now.Sub(s.snap.CreatedAt))
	s.logger.Info("session finished",
		"state", s.snap.State,
		"frames_sent", s.framesSent,
		"frames_dropped", s.framesDropped,
		"capture_dropped", s.captureDropped,
	)
}
