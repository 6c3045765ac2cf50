package timex

import (
	"sync"
	"time"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clock is the time source for the control loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time        { return time.Now() }
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Manual is a virtual clock: Sleep advances time instantly. Safe for
// concurrent readers; intended for a single sleeping goroutine.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock starting at start (or a fixed epoch if zero).
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) { m.Advance(d) }

// Advance moves the clock forward by d (negative values are ignored).
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
