package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/metrics"
	"github.com/rbright/murmur/internal/protocol"
	"github.com/rbright/murmur/internal/transport"
)

func startSession(t *testing.T, h *harness) *Session {
	t.Helper()
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		_ = s.Cancel()
		<-s.Done()
	})
	waitForState(t, s, fsm.StateRecording)
	return s
}

func TestSilenceTimeoutSendsSingleStop(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	for range 3 {
		h.clock.advance(100 * time.Millisecond)
		h.pushFrame(t, loudFrame())
	}
	soundAt := h.clock.Now()
	require.Equal(t, soundAt, s.Snapshot().LastSoundAt)

	h.clock.advance(1000 * time.Millisecond)
	h.pushFrame(t, silentFrame())
	require.True(t, h.clock.tick())
	require.Equal(t, fsm.StateRecording, s.Snapshot().State)

	h.clock.advance(1100 * time.Millisecond)
	h.pushFrame(t, silentFrame())
	require.True(t, h.clock.tick())

	waitForState(t, s, fsm.StateProcessing)
	require.Equal(t, 1, h.stream.count("stop"))
	require.Equal(t, soundAt, s.Snapshot().LastSoundAt)

	// Frames captured after stop are never streamed.
	h.source.frames <- loudFrame()
	time.Sleep(20 * time.Millisecond)
	events, afterStop := h.stream.snapshot()
	require.Zero(t, afterStop)
	require.Equal(t, "stop", events[len(events)-1])
	require.Equal(t, 5, h.stream.count("audio"))
	require.Equal(t, int32(1), h.source.stops.Load())
}

func TestSilenceWatchdogInertOutsideRecording(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	require.NoError(t, s.Stop())
	waitForState(t, s, fsm.StateProcessing)

	h.clock.advance(10 * time.Second)
	require.False(t, h.clock.tick())
	require.Equal(t, 1, h.stream.count("stop"))
}

func TestCancelDuringRecordingSendsNoStop(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	h.pushFrame(t, loudFrame())

	require.NoError(t, s.Cancel())
	result := waitDone(t, s)

	require.Equal(t, fsm.StateCancelled, result.State)
	require.Zero(t, h.stream.count("stop"))
	require.Equal(t, int32(1), h.stream.closes.Load())
	require.Equal(t, int32(1), h.source.stops.Load())
	require.Empty(t, result.Transcript)
}

func TestCancelWhileTransportStopIsStuck(t *testing.T) {
	h := newHarness()
	gate := make(chan struct{})
	h.stream.closeSendGate = gate
	s := startSession(t, h)
	t.Cleanup(func() { close(gate) })
	h.pushFrame(t, loudFrame())

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a stuck transport")
	}
	require.Equal(t, fsm.StateStopping, s.Snapshot().State)

	require.NoError(t, s.Cancel())
	result := waitDone(t, s)

	require.Equal(t, fsm.StateCancelled, result.State)
	require.Zero(t, h.stream.count("stop"))
	require.Equal(t, int32(1), h.stream.closes.Load())
}

func TestStopQueueFailureFailsSession(t *testing.T) {
	h := newHarness()
	h.stream.stopErr = fmt.Errorf("%w: connection reset", transport.ErrTransport)
	s := startSession(t, h)

	require.NoError(t, s.Stop())
	result := waitDone(t, s)

	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, transport.ErrTransport)
	require.ErrorContains(t, result.Err, "queue stop")
}

func TestCaptureDropsReachResult(t *testing.T) {
	h := newHarness()
	m := metrics.New(nil)
	h.deps.Metrics = m
	h.source.dropped.Store(3)
	s := startSession(t, h)

	require.NoError(t, s.Cancel())
	result := waitDone(t, s)

	require.Equal(t, int64(3), result.CaptureDropped)
	require.Zero(t, result.FramesDropped)
	require.Equal(t, 3.0, testutil.ToFloat64(m.CaptureFramesDropped))
}

func TestNoSpeechIgnoresLateSessionCreated(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	require.NoError(t, s.Stop())
	waitForState(t, s, fsm.StateProcessing)

	h.stream.receive(protocol.NoSpeech{})
	h.stream.receive(protocol.SessionCreated{SessionID: "late", Transcript: "ignored"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateNoSpeech, result.State)
	require.Empty(t, result.Transcript)
	require.Empty(t, result.SessionID)
	require.Equal(t, int32(1), h.ind.noSpeech.Load())
}

func TestSessionCreatedCompletesWithTranscript(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	h.pushFrame(t, loudFrame())
	require.NoError(t, s.Stop())
	waitForState(t, s, fsm.StateProcessing)

	h.stream.receive(protocol.SessionCreated{SessionID: "abc", Transcript: "hello"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateCompleted, result.State)
	require.Equal(t, "abc", result.SessionID)
	require.Equal(t, "hello", result.Transcript)
	require.NoError(t, result.Err)
	require.Equal(t, int32(1), h.stream.closes.Load())
	require.Equal(t, int64(1), result.FramesSent)
	require.Equal(t, int64(3200), result.BytesSent)
}

func TestSessionCreatedWithoutTranscriptKeepsDisplayedText(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	h.stream.receive(protocol.Text{Text: "typed by server", IsFinal: true})
	require.Eventually(t, func() bool { return s.Snapshot().Transcript == "typed by server" }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	h.stream.receive(protocol.SessionCreated{SessionID: "abc"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateCompleted, result.State)
	require.Equal(t, "typed by server", result.Transcript)
}

func TestInterimTextLeavesTranscriptUnchanged(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	h.stream.receive(protocol.Text{Text: "hel", IsFinal: false})
	h.stream.receive(protocol.Text{Text: "hello", IsFinal: true})
	require.Eventually(t, func() bool { return s.Snapshot().Transcript == "hello" }, time.Second, time.Millisecond)

	h.stream.receive(protocol.Text{Text: "hello wor", IsFinal: false})
	h.pushFrame(t, silentFrame())
	require.Equal(t, "hello", s.Snapshot().Transcript)
}

func TestServerFinalizationDuringRecording(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	h.stream.receive(protocol.SessionCreated{SessionID: "early", Transcript: "done"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateCompleted, result.State)
	require.Equal(t, "done", result.Transcript)
	require.Equal(t, int32(1), h.source.stops.Load())
	require.Zero(t, h.stream.count("stop"))
}

func TestSetTextOverridesTranscript(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	require.NoError(t, s.SetText("edited"))
	require.Equal(t, "edited", s.Snapshot().Transcript)
	require.Equal(t, fsm.StateRecording, s.Snapshot().State)
}

func TestPermissionDeniedFailsWithoutDial(t *testing.T) {
	h := newHarness()
	h.deps.Capture = func(context.Context) (FrameSource, error) {
		return nil, fmt.Errorf("connect pulse: %w", audio.ErrPermissionDenied)
	}
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(context.Background()))

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, audio.ErrPermissionDenied)
	require.Zero(t, h.dials.Load())
	require.Equal(t, int32(1), h.ind.errors.Load())
}

func TestDialFailureFails(t *testing.T) {
	h := newHarness()
	h.deps.Dial = func(context.Context, Options) (Stream, error) {
		return nil, fmt.Errorf("%w: refused", transport.ErrTransport)
	}
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(context.Background()))

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, transport.ErrTransport)
	require.Equal(t, int32(1), h.source.stops.Load())
}

func TestStopWhileConnectingIsRejectedAndLateDialIsClosed(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	h.deps.Dial = func(context.Context, Options) (Stream, error) {
		<-release
		return h.stream, nil
	}
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, fsm.StateConnecting)

	err := s.Stop()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid transition")

	require.NoError(t, s.Cancel())
	result := waitDone(t, s)
	require.Equal(t, fsm.StateCancelled, result.State)

	close(release)
	require.Eventually(t, func() bool { return h.stream.closes.Load() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, h.stream.count("stop"))
}

func TestFinalizeTimeoutFails(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	require.NoError(t, s.Stop())
	waitForState(t, s, fsm.StateProcessing)

	h.clock.fireFinalize(t)

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, ErrFinalizeTimeout)
	require.Equal(t, int32(1), h.stream.closes.Load())
}

func TestServerErrorFails(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	h.stream.receive(protocol.ServerError{Message: "model unavailable"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, protocol.ErrServer)
	require.Contains(t, result.Err.Error(), "model unavailable")
}

func TestMalformedServerMessageIgnored(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	h.stream.inbound <- transport.Inbound{Err: fmt.Errorf("%w: unknown type %q", protocol.ErrProtocol, "bogus")}
	h.pushFrame(t, loudFrame())
	require.Equal(t, fsm.StateRecording, s.Snapshot().State)
}

func TestUnexpectedCloseFails(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	close(h.stream.inbound)

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, transport.ErrTransport)
}

func TestCaptureHaltFails(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	h.source.halt(fmt.Errorf("%w: no audio for 3s", audio.ErrDeviceUnavailable))

	result := waitDone(t, s)
	require.Equal(t, fsm.StateFailed, result.State)
	require.ErrorIs(t, result.Err, audio.ErrDeviceUnavailable)
}

func TestBackpressureDropsFrames(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	h.pushFrame(t, loudFrame())
	h.stream.setSendErr(transport.ErrBackpressure)

	h.source.frames <- loudFrame()
	h.source.frames <- loudFrame()
	require.Eventually(t, func() bool { return len(h.source.frames) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
	h.stream.receive(protocol.SessionCreated{SessionID: "abc", Transcript: "hi"})

	result := waitDone(t, s)
	require.Equal(t, fsm.StateCompleted, result.State)
	require.Equal(t, int64(1), result.FramesSent)
	require.Equal(t, int64(2), result.FramesDropped)
	require.Equal(t, int64(3), result.FramesCaptured)
}

func TestFramesBeforeTransportOpenAreNotStreamed(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	h.deps.Dial = func(context.Context, Options) (Stream, error) {
		<-release
		return h.stream, nil
	}
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		_ = s.Cancel()
		<-s.Done()
	})
	waitForState(t, s, fsm.StateConnecting)

	h.source.frames <- loudFrame()
	require.Eventually(t, func() bool { return len(h.source.frames) == 0 }, time.Second, time.Millisecond)

	close(release)
	waitForState(t, s, fsm.StateRecording)
	require.Zero(t, h.stream.count("audio"))
}

func TestContextCancelCancelsSession(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(testOptions(), h.deps)
	require.NoError(t, s.Start(ctx))
	waitForState(t, s, fsm.StateRecording)

	cancel()

	result := waitDone(t, s)
	require.Equal(t, fsm.StateCancelled, result.State)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Zero(t, h.stream.count("stop"))
}

func TestControlAfterDone(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)
	require.NoError(t, s.Cancel())
	waitDone(t, s)

	require.ErrorIs(t, s.Stop(), ErrSessionDone)
	require.ErrorIs(t, s.SetText("x"), ErrSessionDone)
}

func TestControlBeforeStartAndDoubleStart(t *testing.T) {
	h := newHarness()
	s := New(testOptions(), h.deps)
	require.ErrorIs(t, s.Stop(), ErrNotStarted)

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrStarted)
	require.NoError(t, s.Cancel())
	waitDone(t, s)
}

func TestRepeatedStopIsAccepted(t *testing.T) {
	h := newHarness()
	s := startSession(t, h)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	waitForState(t, s, fsm.StateProcessing)
	require.NoError(t, s.Stop())
	require.Equal(t, 1, h.stream.count("stop"))
}
