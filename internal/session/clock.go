package session

import "time"

// Clock supplies time to the session loop so tests can drive silence and
// finalization deadlines without sleeping.
type Clock interface {
	Now() time.Time
	// Ticker returns a tick channel and its stop function.
	Ticker(time.Duration) (<-chan time.Time, func())
	After(time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
