// Package app dispatches murmur commands: owner sessions, IPC forwarding, and the host bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/bridge"
	"github.com/rbright/murmur/internal/cli"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/version"
)

const binaryName = "murmur"

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Log.Level, r.Stderr)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandStop})
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandCancel})
	case cli.CommandSubmit:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandSubmit})
	case cli.CommandSetText:
		text := parsed.Arg
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandSetText, Text: &text})
	case cli.CommandTheme:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandTheme, Theme: parsed.Arg})
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfgLoaded, logger)
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		line := resp.State
		if resp.Text != "" {
			line += "\t" + resp.Text
		}
		fmt.Fprintln(r.Stdout, line)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active murmur session\n")
		return 1
	}
	return r.printForwarded(resp, err)
}

func (r Runner) printForwarded(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRecord stops the running session when another process owns one;
// otherwise it becomes the owner and runs a session to completion.
func (r Runner) commandRecord(ctx context.Context, cfg config.Loaded, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	record := ipc.Request{Command: ipc.CommandRecord}
	if resp, handled, err := tryForward(ctx, socketPath, record); handled {
		return r.printForwarded(resp, err)
	}

	owner, err := ipc.Acquire(ctx, socketPath, ipc.DefaultAcquireOptions)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			resp, _, forwardErr := tryForward(ctx, socketPath, record)
			return r.printForwarded(resp, forwardErr)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer owner.Close()

	controller, err := newController(cfg, logger, prometheus.NewRegistry(), bridge.NewLineNotifier(r.Stdout))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, owner, controller)
	}()

	outcome, err := r.runSession(ctx, controller)
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logSessionResult(logger, outcome)
	fmt.Fprintln(r.Stderr, summarize(outcome))

	if outcome.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", outcome.Err)
		return 1
	}
	return 0
}

// runSession opens one session and waits until it is settled. An interrupted
// ctx closes the session and waits briefly for its teardown.
func (r Runner) runSession(ctx context.Context, controller *session.Controller) (session.Outcome, error) {
	if _, err := controller.Open(ctx, nil); err != nil {
		return session.Outcome{}, err
	}

	outcome, err := controller.Wait(ctx)
	if err == nil {
		return outcome, nil
	}

	_ = controller.Close(context.Background())
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return controller.Wait(waitCtx)
}

// commandServe runs the host bridge. The owner socket is held as well so CLI
// commands reach sessions the host opened.
func (r Runner) commandServe(ctx context.Context, cfg config.Loaded, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	owner, err := ipc.Acquire(ctx, socketPath, ipc.DefaultAcquireOptions)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer owner.Close()

	reg := prometheus.NewRegistry()
	controller, err := newController(cfg, logger, reg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	srv := bridge.New(bridge.Config{
		Listen:   cfg.Config.Bridge.Listen,
		Path:     cfg.Config.Bridge.Path,
		Gatherer: reg,
		Logger:   logger,
	}, controller)
	controller.AddNotifier(srv.Hub())

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- ipc.Serve(serverCtx, owner, controller)
	}()

	serveErr := srv.ListenAndServe(serverCtx)
	_ = controller.Close(context.Background())
	serverCancel()
	if ipcErr := <-ipcErrCh; ipcErr != nil {
		logger.Error("ipc server failed", "error", ipcErr)
	}

	if serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", serveErr)
		return 1
	}
	return 0
}

func summarize(outcome session.Outcome) string {
	result := outcome.Result
	elapsed := result.FinishedAt.Sub(result.CreatedAt).Round(10 * time.Millisecond)
	line := fmt.Sprintf("%s after %s, sent %s in %d frames",
		result.State,
		elapsed,
		humanize.Bytes(uint64(result.BytesSent)),
		result.FramesSent,
	)
	if result.FramesDropped > 0 {
		line += fmt.Sprintf(" (%s dropped)", humanize.Comma(result.FramesDropped))
	}
	if result.CaptureDropped > 0 {
		line += fmt.Sprintf(", %s lost in capture", humanize.Comma(result.CaptureDropped))
	}
	if outcome.Submitted {
		line += ", submitted"
	}
	return line
}

func logSessionResult(logger *slog.Logger, outcome session.Outcome) {
	if logger == nil {
		return
	}
	result := outcome.Result
	fields := []any{
		"state", result.State,
		"correlation_id", result.CorrelationID,
		"session_id", result.SessionID,
		"created_at", result.CreatedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.CreatedAt).Milliseconds(),
		"frames_captured", result.FramesCaptured,
		"frames_sent", result.FramesSent,
		"frames_dropped", result.FramesDropped,
		"capture_dropped", result.CaptureDropped,
		"bytes_sent", humanize.Bytes(uint64(result.BytesSent)),
		"transcript_length", len(outcome.Text),
		"submitted", outcome.Submitted,
	}
	if result.AudioPath != "" {
		fields = append(fields, "audio_dump", result.AudioPath)
	}
	if result.MessagesPath != "" {
		fields = append(fields, "message_dump", result.MessagesPath)
	}

	if outcome.Err != nil {
		logger.Error("session failed", append(fields, "error", outcome.Err.Error())...)
		return
	}
	if result.State == fsm.StateCancelled {
		logger.Info("session cancelled", fields...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, 220*time.Millisecond)
	switch {
	case err == nil && resp.OK:
		return resp, true, nil
	case err == nil:
		return resp, true, errors.New(resp.Error)
	case errors.Is(err, ipc.ErrNoOwner):
		return ipc.Response{}, false, nil
	default:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
	}
}
