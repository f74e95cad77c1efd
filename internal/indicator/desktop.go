package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	notificationsBus   = "org.freedesktop.Notifications"
	notificationsPath  = "/org/freedesktop/Notifications"
	notifySignature    = "susssasa{sv}i"
	closeSignature     = "u"
	defaultDesktopName = "murmur-indicator"
)

// busctl calls one org.freedesktop.Notifications method on the user bus and
// returns its trimmed reply.
func busctl(ctx context.Context, method, signature string, args ...string) (string, error) {
	argv := append([]string{
		"--user", "call",
		notificationsBus, notificationsPath, notificationsBus,
		method, signature,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	reply := strings.TrimSpace(string(out))
	if err != nil {
		if reply == "" {
			return "", fmt.Errorf("busctl %s: %w", method, err)
		}
		return "", fmt.Errorf("busctl %s: %w (%s)", method, err, reply)
	}
	return reply, nil
}

// desktopNotify shows or replaces a notification and returns the id the server assigned.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, summary string, timeout time.Duration) (uint32, error) {
	reply, err := busctl(ctx, "Notify", notifySignature,
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"", // icon
		summary,
		"", // body
		"0",
		"0",
		strconv.FormatInt(timeout.Milliseconds(), 10),
	)
	if err != nil {
		return 0, err
	}
	return parseNotificationID(reply)
}

func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := busctl(ctx, "CloseNotification", closeSignature, strconv.FormatUint(uint64(id), 10))
	return err
}

// parseNotificationID reads a busctl reply of the form "u 42".
func parseNotificationID(reply string) (uint32, error) {
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "u" {
		return 0, fmt.Errorf("unexpected Notify reply %q", reply)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse notification id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}
