// Package metrics holds the Prometheus instruments for capture and streaming sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the session instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ActiveSessions   prometheus.Gauge

	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter
	BytesSent      prometheus.Counter

	CaptureFramesDropped prometheus.Counter

	ServerMessages   *prometheus.CounterVec
	ProtocolErrors   prometheus.Counter
	SilenceTimeouts  prometheus.Counter
	FinalizeDuration prometheus.Histogram

	Notifications *prometheus.CounterVec
}

// New registers all instruments with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_sessions_finished_total",
			Help: "Total number of sessions by terminal state",
		}, []string{"state"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_session_duration_seconds",
			Help:    "Wall time from start to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_active_sessions",
			Help: "Sessions currently in a non-terminal state",
		}),
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_frames_captured_total",
			Help: "Audio frames received from the capture device",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_frames_queued_total",
			Help: "Encoded frames accepted by the transport send queue",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_frames_dropped_total",
			Help: "Encoded frames dropped because the transport send queue was full",
		}),
		CaptureFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_capture_frames_dropped_total",
			Help: "Frames discarded by the capture device reader before the session consumed them",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_audio_bytes_queued_total",
			Help: "PCM16 bytes accepted by the transport send queue",
		}),
		ServerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_server_messages_total",
			Help: "Server messages received by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_protocol_errors_total",
			Help: "Malformed or unknown server messages ignored",
		}),
		SilenceTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_silence_timeouts_total",
			Help: "Recordings ended by the silence watchdog",
		}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_finalize_duration_seconds",
			Help:    "Time from stop to server finalization",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_host_notifications_total",
			Help: "Notifications emitted to the host by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
	m.ActiveSessions.Dec()
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) FrameQueued(bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) CaptureDropped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CaptureFramesDropped.Add(float64(n))
}

func (m *Metrics) ServerMessage(kind string) {
	if m == nil {
		return
	}
	m.ServerMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) SilenceTimeout() {
	if m == nil {
		return
	}
	m.SilenceTimeouts.Inc()
}

func (m *Metrics) Finalized(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}
