// Package watchdog implements the silence policy that ends a recording after sustained quiet.
package watchdog

import (
	"sync"
	"time"
)

const (
	DefaultThreshold     = 0.01
	DefaultTimeout       = 2 * time.Second
	DefaultCheckInterval = 500 * time.Millisecond
)

// Config tunes the silence policy.
type Config struct {
	Threshold     float64
	Timeout       time.Duration
	CheckInterval time.Duration
}

// Watchdog tracks the last time a frame carried sound.
// It is inert until Arm is called and after Disarm.
type Watchdog struct {
	cfg Config

	mu          sync.Mutex
	armed       bool
	lastSoundAt time.Time
}

// New builds a watchdog, filling unset fields with defaults.
func New(cfg Config) *Watchdog {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Watchdog{cfg: cfg}
}

// Config returns the effective policy.
func (w *Watchdog) Config() Config {
	return w.cfg
}

// Arm starts the silence clock at now.
func (w *Watchdog) Arm(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	w.lastSoundAt = now
}

// Disarm makes the watchdog inert.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = false
}

// Armed reports whether silence is currently being tracked.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Observe records one frame's RMS level and reports whether it counted as sound.
func (w *Watchdog) Observe(rms float64, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed || rms <= w.cfg.Threshold {
		return false
	}
	w.lastSoundAt = now
	return true
}

// LastSoundAt returns the last sound timestamp, or zero when disarmed.
func (w *Watchdog) LastSoundAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return time.Time{}
	}
	return w.lastSoundAt
}

// Expired reports whether the silence timeout elapsed while armed.
func (w *Watchdog) Expired(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return false
	}
	return now.Sub(w.lastSoundAt) >= w.cfg.Timeout
}
