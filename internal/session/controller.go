package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/indicator"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/protocol"
)

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoSession       = errors.New("no active session")
	ErrNothingToSubmit = errors.New("nothing to submit")
	ErrEmptyTranscript = errors.New("transcript is empty")
	ErrSubmitted       = errors.New("transcript already submitted")
)

// Committer delivers a submitted transcript to its destination.
type Committer interface {
	Commit(ctx context.Context, text string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, text string) error { return f(ctx, text) }

// Notifier delivers outbound host notifications.
type Notifier interface {
	Notify(context.Context, protocol.Notification) error
}

// NotifyFunc adapts a function to the Notifier interface.
type NotifyFunc func(context.Context, protocol.Notification) error

func (f NotifyFunc) Notify(ctx context.Context, n protocol.Notification) error {
	return f(ctx, n)
}

// Outcome is how one opened session was settled.
type Outcome struct {
	Result    Result
	Text      string
	Submitted bool
	Err       error
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Base       Options
	AutoSubmit bool
	Deps       Deps
	Committer  Committer
	Indicator  indicator.Controller
	Notifiers  []Notifier
	Logger     *slog.Logger
}

// Controller keeps at most one live session and relays its outcome to the host.
type Controller struct {
	logger     *slog.Logger
	base       Options
	autoSubmit bool
	deps       Deps
	commit     Committer
	indicator  indicator.Controller
	notifiers  []Notifier

	mu       sync.Mutex
	live     *Session
	last     *Result
	text     string
	resolved bool
	quiet    bool
	settled  chan struct{}
	outcome  Outcome
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Committer == nil {
		cfg.Committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if cfg.Indicator == nil {
		cfg.Indicator = &indicator.Noop{}
		cfg.Indicator.SetTheme(cfg.Base.Theme)
	}
	if cfg.Deps.Indicator == nil {
		cfg.Deps.Indicator = cfg.Indicator
	}
	if cfg.Deps.Logger == nil {
		cfg.Deps.Logger = cfg.Logger
	}

	settled := make(chan struct{})
	close(settled)
	return &Controller{
		logger:     cfg.Logger,
		base:       cfg.Base,
		autoSubmit: cfg.AutoSubmit,
		deps:       cfg.Deps,
		commit:     cfg.Committer,
		indicator:  cfg.Indicator,
		notifiers:  cfg.Notifiers,
		settled:    settled,
	}
}

// AddNotifier registers another outbound notification sink.
func (c *Controller) AddNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers = append(c.notifiers, n)
}

// Open starts a new session. ctx bounds the session lifetime.
func (c *Controller) Open(ctx context.Context, overrides *protocol.SessionOptions) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil && !c.live.Snapshot().State.Terminal() {
		return nil, ErrSessionActive
	}

	opts := mergeOptions(c.base, overrides)
	if overrides != nil && strings.TrimSpace(overrides.Theme) != "" {
		c.indicator.SetTheme(overrides.Theme)
	}

	s := New(opts, c.deps)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	// A finished session still awaiting submit is superseded.
	if c.last != nil {
		c.settleLocked(Outcome{Result: *c.last, Text: c.text})
	}

	c.live = s
	c.last = nil
	c.text = ""
	c.resolved = false
	c.quiet = false
	c.settled = make(chan struct{})
	c.outcome = Outcome{}

	go c.watch(s, c.settled)
	return s, nil
}

// Close dismisses the current session: a live one is cancelled, a finished one
// is discarded. The host initiated it, so no cancel notification is emitted.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	live := c.live
	if live != nil && !live.Snapshot().State.Terminal() {
		c.quiet = true
		c.mu.Unlock()
		if err := live.Cancel(); err != nil && !errors.Is(err, ErrSessionDone) {
			return err
		}
		return nil
	}
	if c.last != nil {
		c.settleLocked(Outcome{Result: *c.last, Text: c.text})
	}
	c.mu.Unlock()
	return nil
}

// Cancel is the user cancel: it aborts a live session or discards a finished
// one, and notifies the host either way.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	live := c.live
	if live != nil && !live.Snapshot().State.Terminal() {
		c.mu.Unlock()
		if err := live.Cancel(); err != nil && !errors.Is(err, ErrSessionDone) {
			return err
		}
		return nil
	}

	if c.last == nil || c.resolved || c.isSettledLocked() {
		c.mu.Unlock()
		return ErrNoSession
	}
	outcome := Outcome{Result: *c.last, Text: c.text}
	settled := c.settled
	c.resolved = true
	c.mu.Unlock()

	c.emit(ctx, protocol.CancelNotification())
	c.settle(settled, outcome)
	return nil
}

// Stop gracefully stops the live session.
func (c *Controller) Stop(context.Context) error {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()

	if live == nil || live.Snapshot().State.Terminal() {
		return ErrNoSession
	}
	return live.Stop()
}

// SetText replaces the displayed transcript.
func (c *Controller) SetText(_ context.Context, text string) error {
	c.mu.Lock()
	live := c.live
	if live != nil && !live.Snapshot().State.Terminal() {
		c.mu.Unlock()
		err := live.SetText(text)
		if !errors.Is(err, ErrSessionDone) {
			return err
		}
		// Finished meanwhile; fall through to the stored result.
		c.mu.Lock()
	}
	c.text = text
	c.mu.Unlock()
	return nil
}

// SetTheme switches the indicator palette. Session state is untouched.
func (c *Controller) SetTheme(theme string) string {
	c.indicator.SetTheme(theme)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.base.Theme = c.indicator.Theme()
	return c.base.Theme
}

// Submit delivers the finished transcript to the output committer and the host.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.live != nil && !c.live.Snapshot().State.Terminal() {
		state := c.live.Snapshot().State
		c.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrNothingToSubmit, state)
	}
	if c.resolved {
		discarded := c.isSettledLocked() && !c.outcome.Submitted
		c.mu.Unlock()
		if discarded {
			return ErrNothingToSubmit
		}
		return ErrSubmitted
	}
	if c.last == nil || c.isSettledLocked() {
		c.mu.Unlock()
		return ErrNothingToSubmit
	}
	result := *c.last
	text := strings.TrimSpace(c.text)
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyTranscript
	}
	c.resolved = true
	settled := c.settled
	c.mu.Unlock()

	return c.deliver(ctx, settled, result, text)
}

// Status describes the controller for status commands.
type Status struct {
	State         fsm.State
	CorrelationID string
	SessionID     string
	Text          string
	Theme         string
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{State: fsm.StateIdle, Text: c.text, Theme: c.indicator.Theme()}
	if c.live == nil {
		return status
	}
	snap := c.live.Snapshot()
	status.State = snap.State
	status.CorrelationID = snap.CorrelationID
	status.SessionID = snap.SessionID
	if !snap.State.Terminal() {
		status.Text = snap.Transcript
	}
	return status
}

// Wait blocks until the most recently opened session is settled.
func (c *Controller) Wait(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, nil
}

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	message := req.Command

	switch req.Command {
	case ipc.CommandStatus:
		return c.statusResponse("status")
	case ipc.CommandRecord, ipc.CommandStop:
		err = c.Stop(ctx)
		message = "stop requested"
	case ipc.CommandCancel:
		err = c.Cancel(ctx)
		message = "cancel requested"
	case ipc.CommandSubmit:
		err = c.Submit(ctx)
		message = "submitted"
	case ipc.CommandSetText:
		if req.Text == nil {
			err = errors.New("set-text requires text")
			break
		}
		err = c.SetText(ctx, *req.Text)
		message = "text updated"
	case ipc.CommandTheme:
		if strings.TrimSpace(req.Theme) == "" {
			err = errors.New("theme requires a name")
			break
		}
		resp := c.statusResponse("theme set")
		resp.Theme = c.SetTheme(req.Theme)
		return resp
	default:
		err = fmt.Errorf("unknown command: %s", req.Command)
	}

	if err != nil {
		resp := c.statusResponse("")
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}
	return c.statusResponse(message)
}

func (c *Controller) statusResponse(message string) ipc.Response {
	status := c.Status()
	return ipc.Response{
		OK:        true,
		State:     string(status.State),
		SessionID: status.SessionID,
		Text:      status.Text,
		Theme:     status.Theme,
		Message:   message,
	}
}

// Command serves one host bridge command.
func (c *Controller) Command(ctx context.Context, cmd protocol.Command) protocol.CommandResult {
	var err error

	switch cmd.Method {
	case protocol.CommandOpen:
		_, err = c.Open(ctx, cmd.Config)
	case protocol.CommandClose:
		err = c.Close(ctx)
	case protocol.CommandStop:
		err = c.Stop(ctx)
	case protocol.CommandSubmit:
		err = c.Submit(ctx)
	case protocol.CommandSetText:
		if cmd.Text == nil {
			err = errors.New("setText requires text")
			break
		}
		err = c.SetText(ctx, *cmd.Text)
	case protocol.CommandTheme:
		c.SetTheme(cmd.Theme)
	case protocol.CommandStatus:
	default:
		err = fmt.Errorf("unknown method: %s", cmd.Method)
	}

	status := c.Status()
	result := protocol.CommandResult{OK: err == nil, State: string(status.State), Text: status.Text}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Message = cmd.Method
	}
	return result
}

// watch settles one session after it reaches a terminal state.
func (c *Controller) watch(s *Session, settled chan struct{}) {
	<-s.Done()
	result := s.Result()

	c.mu.Lock()
	if c.live != s {
		c.mu.Unlock()
		return
	}
	c.last = &result
	c.text = result.Transcript
	quiet := c.quiet
	autoText := strings.TrimSpace(result.Transcript)

	switch result.State {
	case fsm.StateCancelled:
		c.mu.Unlock()
		if !quiet {
			c.emit(context.Background(), protocol.CancelNotification())
		}
		c.settle(settled, Outcome{Result: result})
		return
	case fsm.StateFailed:
		c.mu.Unlock()
		c.emit(context.Background(), protocol.ErrorNotification(errorMessage(result.Err)))
		c.settle(settled, Outcome{Result: result, Err: result.Err})
		return
	}

	if !c.autoSubmit {
		c.mu.Unlock()
		return
	}
	if autoText == "" {
		c.settleLocked(Outcome{Result: result})
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.mu.Unlock()

	if err := c.deliver(context.Background(), settled, result, autoText); err != nil {
		c.logger.Error("auto submit failed", "session", result.CorrelationID, "error", err)
	}
}

// deliver commits text and notifies the host, then settles the session.
func (c *Controller) deliver(ctx context.Context, settled chan struct{}, result Result, text string) error {
	if err := c.commit.Commit(ctx, text); err != nil {
		err = fmt.Errorf("commit transcript: %w", err)
		c.emit(ctx, protocol.ErrorNotification(err.Error()))
		c.settle(settled, Outcome{Result: result, Text: text, Err: err})
		return err
	}

	c.emit(ctx, protocol.SubmitNotification(text, result.SessionID))
	c.settle(settled, Outcome{Result: result, Text: text, Submitted: true})
	c.logger.Info("transcript submitted", "session", result.CorrelationID, "session_id", result.SessionID, "chars", len(text))
	return nil
}

// settle resolves the session that owns settled; a superseded session is ignored.
func (c *Controller) settle(settled chan struct{}, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled != settled {
		return
	}
	c.settleLocked(outcome)
}

func (c *Controller) isSettledLocked() bool {
	select {
	case <-c.settled:
		return true
	default:
		return false
	}
}

func (c *Controller) settleLocked(outcome Outcome) {
	if c.isSettledLocked() {
		return
	}
	c.outcome = outcome
	close(c.settled)
}

func (c *Controller) emit(ctx context.Context, n protocol.Notification) {
	c.mu.Lock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.Unlock()

	c.deps.Metrics.Notification(n.Type)
	for _, notifier := range notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			c.logger.Warn("host notification failed", "type", n.Type, "error", err)
		}
	}
}

// errorMessage maps a failure to the text the host receives.
func errorMessage(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, audio.ErrPermissionDenied):
		return protocol.PermissionDeniedMessage
	default:
		return err.Error()
	}
}

func mergeOptions(base Options, overrides *protocol.SessionOptions) Options {
	if overrides == nil {
		return base
	}
	if v := strings.TrimSpace(overrides.Language); v != "" {
		base.Language = v
	}
	if overrides.SampleRate > 0 {
		base.SampleRate = overrides.SampleRate
	}
	if v := strings.TrimSpace(overrides.Token); v != "" {
		base.Token = v
	}
	if v := strings.TrimSpace(overrides.BaseURL); v != "" {
		base.BaseURL = v
	}
	if v := strings.TrimSpace(overrides.Theme); v != "" {
		base.Theme = indicator.NormalizeTheme(v)
	}
	return base
}
