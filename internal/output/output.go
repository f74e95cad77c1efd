// Package output delivers submitted transcripts to the desktop: clipboard first,
// then an optional paste into the focused window.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/config"
)

// ErrClipboard wraps failures to place the transcript on the clipboard.
var ErrClipboard = errors.New("clipboard write failed")

const (
	clipboardTimeout = 2 * time.Second
	pasteCmdTimeout  = 2 * time.Second
	hyprPasteTimeout = 1200 * time.Millisecond
)

// Target describes where a submitted transcript goes.
type Target struct {
	Clipboard []string
	Paste     bool
	// PasteCmd replaces the Hyprland sendshortcut paste when set.
	PasteCmd []string
	Shortcut string
}

// TargetFromConfig derives the delivery target from runtime config.
func TargetFromConfig(cfg config.Config) Target {
	return Target{
		Clipboard: cfg.Clipboard.Argv,
		Paste:     cfg.Paste.Enable,
		PasteCmd:  cfg.PasteCmd.Argv,
		Shortcut:  cfg.Paste.Shortcut,
	}
}

// Desktop commits transcripts to the clipboard and pastes them.
// A paste failure is logged; the clipboard still holds the text.
type Desktop struct {
	target Target
	logger *slog.Logger

	run   func(ctx context.Context, argv []string, input string) error
	paste func(ctx context.Context, shortcut string) error
}

func NewDesktop(target Target, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Desktop{
		target: target,
		logger: logger,
		run:    runWithInput,
		paste:  hyprPaste,
	}
}

// Commit delivers one submitted transcript. Blank text is a no-op.
func (d *Desktop) Commit(ctx context.Context, transcript string) error {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	clipCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	err := d.run(clipCtx, d.target.Clipboard, transcript)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClipboard, err)
	}

	if !d.target.Paste {
		return nil
	}
	if err := d.dispatchPaste(ctx); err != nil {
		d.logger.Error("paste failed; transcript left on clipboard",
			"chars", len([]rune(transcript)),
			"error", err,
		)
	}
	return nil
}

func (d *Desktop) dispatchPaste(ctx context.Context) error {
	if len(d.target.PasteCmd) > 0 {
		pasteCtx, cancel := context.WithTimeout(ctx, pasteCmdTimeout)
		defer cancel()
		return d.run(pasteCtx, d.target.PasteCmd, "")
	}

	pasteCtx, cancel := context.WithTimeout(ctx, hyprPasteTimeout)
	defer cancel()
	return d.paste(pasteCtx, d.target.Shortcut)
}

// runWithInput executes argv, feeding input on stdin when non-empty.
func runWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w (%s)", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
