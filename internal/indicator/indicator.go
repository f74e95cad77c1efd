// Package indicator handles visual session-state notifications.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/hypr"
)

// persistent keeps a state notification up until the next state replaces it.
const persistent = 300 * time.Second

// Controller is the session-facing indicator contract.
type Controller interface {
	ShowConnecting(context.Context)
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowNoSpeech(context.Context)
	ShowError(context.Context, string)
	Hide(context.Context)
	SetTheme(string)
	Theme() string
}

// Noop satisfies Controller without side effects.
type Noop struct {
	mu    sync.Mutex
	theme string
}

func (*Noop) ShowConnecting(context.Context)    {}
func (*Noop) ShowRecording(context.Context)     {}
func (*Noop) ShowProcessing(context.Context)    {}
func (*Noop) ShowNoSpeech(context.Context)      {}
func (*Noop) ShowError(context.Context, string) {}
func (*Noop) Hide(context.Context)              {}

func (n *Noop) SetTheme(theme string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.theme = NormalizeTheme(theme)
}

func (n *Noop) Theme() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.theme == "" {
		return NormalizeTheme("")
	}
	return n.theme
}

// HyprNotify is the concrete indicator implementation used by runtime sessions.
// It can route notifications via Hyprland or desktop DBus based on config backend.
type HyprNotify struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	theme                 string
	focusedMonitor        string
	desktopNotificationID uint32
}

// NewHyprNotify creates an indicator controller from config.
func NewHyprNotify(cfg config.IndicatorConfig, theme string, logger *slog.Logger) *HyprNotify {
	return &HyprNotify{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		theme:    NormalizeTheme(theme),
	}
}

// SetTheme switches the palette for later notifications. It never touches session state.
func (h *HyprNotify) SetTheme(theme string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.theme = NormalizeTheme(theme)
}

// Theme returns the active theme name.
func (h *HyprNotify) Theme() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.theme
}

func (h *HyprNotify) palette() Palette {
	return PaletteFor(h.Theme())
}

// ShowConnecting signals that the stream is being opened.
func (h *HyprNotify) ShowConnecting(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.ensureFocusedMonitor(ctx)
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, hypr.Notification{Icon: hypr.IconInfo, Timeout: persistent, Color: h.palette().Processing, Text: h.messages.connecting})
	})
}

// ShowRecording signals that audio is streaming.
func (h *HyprNotify) ShowRecording(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.ensureFocusedMonitor(ctx)
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, hypr.Notification{Icon: hypr.IconInfo, Timeout: persistent, Color: h.palette().Recording, Text: h.messages.recording})
	})
}

// ShowProcessing signals the wait for server finalization.
func (h *HyprNotify) ShowProcessing(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, hypr.Notification{Icon: hypr.IconInfo, Timeout: persistent, Color: h.palette().Processing, Text: h.messages.processing})
	})
}

// ShowNoSpeech briefly reports an empty recording.
func (h *HyprNotify) ShowNoSpeech(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, hypr.Notification{Icon: hypr.IconWarning, Timeout: h.errorTimeout(), Color: h.palette().Done, Text: h.messages.noSpeech})
	})
}

// ShowError displays an error-state indicator message.
func (h *HyprNotify) ShowError(ctx context.Context, text string) {
	if !h.cfg.Enable {
		return
	}
	if text == "" {
		text = h.messages.errorText
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, hypr.Notification{Icon: hypr.IconError, Timeout: h.errorTimeout(), Color: h.palette().Error, Text: text})
	})
}

// Hide dismisses the active indicator surface.
func (h *HyprNotify) Hide(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, h.dismiss)
}

// FocusedMonitor returns the monitor captured when recording began.
func (h *HyprNotify) FocusedMonitor() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focusedMonitor
}

func (h *HyprNotify) errorTimeout() time.Duration {
	if h.cfg.ErrorTimeoutMS <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(h.cfg.ErrorTimeoutMS) * time.Millisecond
}

// ensureFocusedMonitor resolves and caches the focused monitor once per session.
func (h *HyprNotify) ensureFocusedMonitor(ctx context.Context) {
	if h.desktop() {
		return
	}
	h.mu.Lock()
	alreadySet := h.focusedMonitor != ""
	h.mu.Unlock()
	if alreadySet {
		return
	}

	monitor, err := hypr.QueryFocusedMonitor(ctx)
	if err != nil {
		h.log("indicator focused monitor query failed", err)
		return
	}

	h.mu.Lock()
	h.focusedMonitor = monitor
	h.mu.Unlock()
}

func (h *HyprNotify) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(h.cfg.Backend), "desktop")
}

// notify dispatches indicator output through the configured backend.
// The desktop backend has no per-message color.
func (h *HyprNotify) notify(ctx context.Context, n hypr.Notification) error {
	if h.desktop() {
		return h.notifyDesktop(ctx, n.Timeout, n.Text)
	}
	return hypr.Notify(ctx, n)
}

// dismiss removes indicator output from the configured backend.
func (h *HyprNotify) dismiss(ctx context.Context) error {
	if h.desktop() {
		return h.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (h *HyprNotify) notifyDesktop(ctx context.Context, timeout time.Duration, text string) error {
	h.mu.Lock()
	replaceID := h.desktopNotificationID
	h.mu.Unlock()

	appName := strings.TrimSpace(h.cfg.DesktopAppName)
	if appName == "" {
		appName = defaultDesktopName
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeout)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.desktopNotificationID = id
	h.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (h *HyprNotify) dismissDesktop(ctx context.Context) error {
	h.mu.Lock()
	id := h.desktopNotificationID
	h.desktopNotificationID = 0
	h.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (h *HyprNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		h.log("indicator dispatch failed", err)
	}
}

// log emits debug-only indicator failures to the runtime logger.
func (h *HyprNotify) log(message string, err error) {
	if h.logger == nil || err == nil {
		return
	}
	h.logger.Debug(message, "error", err.Error())
}
