package hypr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoActiveWindow means Hyprland reported no focused client to paste into.
	ErrNoActiveWindow = errors.New("no active window")
	// ErrNoMonitor means Hyprland reported no outputs.
	ErrNoMonitor = errors.New("no monitors")
)

// Icon selects the glyph Hyprland draws beside a notification.
type Icon int

const (
	IconWarning Icon = iota
	IconInfo
	IconHint
	IconError
)

// DefaultColor is used for notifications without a color.
const DefaultColor = "rgb(89b4fa)"

// Notification is one `dispatch notify` payload.
type Notification struct {
	Icon    Icon
	Timeout time.Duration
	Color   string
	Text    string
}

// ActiveWindow identifies the client a paste shortcut is sent to.
type ActiveWindow struct {
	Address      string `json:"address"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
}

type monitor struct {
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// QueryActiveWindow returns the focused client. An empty address yields ErrNoActiveWindow.
func QueryActiveWindow(ctx context.Context) (ActiveWindow, error) {
	var window ActiveWindow
	if err := query(ctx, "activewindow", &window); err != nil {
		return ActiveWindow{}, err
	}
	window.Address = strings.TrimSpace(window.Address)
	window.Class = strings.TrimSpace(window.Class)
	window.InitialClass = strings.TrimSpace(window.InitialClass)
	if window.Address == "" {
		return ActiveWindow{}, fmt.Errorf("%w: activewindow returned empty address", ErrNoActiveWindow)
	}
	return window, nil
}

// QueryFocusedMonitor returns the focused monitor name, falling back to the first one.
func QueryFocusedMonitor(ctx context.Context) (string, error) {
	var monitors []monitor
	if err := query(ctx, "monitors", &monitors); err != nil {
		return "", err
	}
	if len(monitors) == 0 {
		return "", ErrNoMonitor
	}
	for _, mon := range monitors {
		if mon.Focused {
			return strings.TrimSpace(mon.Name), nil
		}
	}
	return strings.TrimSpace(monitors[0].Name), nil
}

// SendShortcut dispatches a literal sendshortcut payload such as "CTRL,V,address:0x1".
func SendShortcut(ctx context.Context, shortcut string) error {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return errors.New("sendshortcut: empty shortcut")
	}
	return dispatch(ctx, "sendshortcut", shortcut)
}

func Notify(ctx context.Context, n Notification) error {
	color := strings.TrimSpace(n.Color)
	if color == "" {
		color = DefaultColor
	}
	return dispatch(ctx,
		"notify",
		strconv.Itoa(int(n.Icon)),
		strconv.FormatInt(n.Timeout.Milliseconds(), 10),
		color,
		n.Text,
	)
}

func DismissNotify(ctx context.Context) error {
	return dispatch(ctx, "dismissnotify")
}
