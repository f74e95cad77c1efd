package output

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/hypr"
)

// hyprPaste sends the paste shortcut to the focused Hyprland client.
func hyprPaste(ctx context.Context, shortcut string) error {
	window, err := focusedWindow(ctx, hypr.QueryActiveWindow, 5, 10*time.Millisecond)
	if err != nil {
		return err
	}
	payload, err := shortcutFor(shortcut, window.Address)
	if err != nil {
		return err
	}
	return hypr.SendShortcut(ctx, payload)
}

// shortcutFor targets a sendshortcut payload at one window address.
func shortcutFor(shortcut, address string) (string, error) {
	shortcut = strings.TrimSpace(shortcut)
	address = strings.TrimSpace(address)
	switch {
	case shortcut == "":
		return "", errors.New("paste shortcut is empty")
	case address == "":
		return "", errors.New("window address is empty")
	}
	return shortcut + ",address:" + address, nil
}

// focusedWindow polls the active window; focus can lag right after a
// notification is dismissed.
func focusedWindow(
	ctx context.Context,
	query func(context.Context) (hypr.ActiveWindow, error),
	attempts int,
	delay time.Duration,
) (hypr.ActiveWindow, error) {
	attempts = max(attempts, 1)

	var lastErr error
	for i := range attempts {
		window, err := query(ctx)
		if err == nil {
			return window, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return hypr.ActiveWindow{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return hypr.ActiveWindow{}, fmt.Errorf("resolve active window: %w", lastErr)
}
