package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/dump"
	"github.com/rbright/murmur/internal/indicator"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/output"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/transport"
	"github.com/rbright/murmur/internal/watchdog"
)

// newController wires a session controller against the live desktop:
// Pulse capture, the websocket stream, clipboard output, and the indicator.
func newController(
	cfg config.Loaded,
	logger *slog.Logger,
	reg prometheus.Registerer,
	notifiers ...session.Notifier,
) (*session.Controller, error) {
	token, err := cfg.Token()
	if err != nil {
		return nil, err
	}

	if reg != nil {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := cfg.Config
	indicatorCtl := indicator.NewHyprNotify(c.Indicator, c.Session.Theme, logger)

	return session.NewController(session.ControllerConfig{
		Base:       baseOptions(c, token),
		AutoSubmit: c.Submit.Auto,
		Deps: session.Deps{
			Capture: captureFunc(c.Audio, logger),
			Dial:    dialFunc(c.Server, logger),
			Metrics: metrics.New(reg),
			Logger:  logger,
		},
		Committer: output.NewDesktop(output.TargetFromConfig(c), logger),
		Indicator: indicatorCtl,
		Notifiers: notifiers,
		Logger:    logger,
	}), nil
}

func baseOptions(c config.Config, token string) session.Options {
	return session.Options{
		Language:   c.Session.Language,
		SampleRate: c.Session.SampleRate,
		Token:      token,
		BaseURL:    c.Server.BaseURL,
		Theme:      c.Session.Theme,
		Silence: watchdog.Config{
			Threshold:     c.Silence.Threshold,
			Timeout:       millis(c.Silence.TimeoutMS),
			CheckInterval: millis(c.Silence.CheckIntervalMS),
		},
		FinalizeTimeout: millis(c.Server.FinalizeTimeoutMS),
		Dump: dump.Options{
			Audio:    c.Debug.EnableAudioDump,
			Messages: c.Debug.EnableMessageDump,
		},
	}
}

func captureFunc(c config.AudioConfig, logger *slog.Logger) session.CaptureFunc {
	return func(ctx context.Context) (session.FrameSource, error) {
		selection, err := audio.SelectDevice(ctx, c.Input, c.Fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" {
			logger.Warn("audio device fallback", "warning", selection.Warning)
		}

		capture, err := audio.Start(ctx, selection.Device, audio.Options{
			FrameSize:    c.FrameSize,
			QueueFrames:  c.QueueFrames,
			StallTimeout: millis(c.StallTimeoutMS),
		})
		if err != nil {
			return nil, fmt.Errorf("start capture on %q: %w", selection.Device.ID, err)
		}
		logger.Info("capture started", "device", selection.Device.ID, "sample_rate", capture.SampleRate())
		return capture, nil
	}
}

func dialFunc(c config.ServerConfig, logger *slog.Logger) session.DialFunc {
	return func(ctx context.Context, opts session.Options) (session.Stream, error) {
		conn, err := transport.Dial(ctx, transport.Config{
			BaseURL:     opts.BaseURL,
			Language:    opts.Language,
			SampleRate:  opts.SampleRate,
			Token:       opts.Token,
			QueueFrames: c.QueueFrames,
			DialTimeout: millis(c.DialTimeoutMS),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
