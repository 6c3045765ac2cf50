package hal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"doorbell-go/types"
	"doorbell-go/x/timex"
)

// ----------------------------- Pins (sim) ------------------------------------

// SimPin is an in-memory GPIO line. It records every level change.
type SimPin struct {
	mu      sync.RWMutex
	level   int
	history []int
}

func (p *SimPin) Value() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level, nil
}

func (p *SimPin) SetValue(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v != 0 {
		v = 1
	}
	if v != p.level {
		p.history = append(p.history, v)
	}
	p.level = v
	return nil
}

// Pulses counts rising edges seen so far.
func (p *SimPin) Pulses() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, v := range p.history {
		if v == 1 {
			n++
		}
	}
	return n
}

// ----------------------------- Button (sim) ----------------------------------

// Press is one scripted button press relative to boot.
type Press struct {
	At   time.Duration
	Held time.Duration
}

// ParsePress reads "<start>+<held>", e.g. "0s+1200ms".
func ParsePress(s string) (Press, error) {
	at, held, ok := strings.Cut(s, "+")
	if !ok {
		return Press{}, fmt.Errorf("press %q: want <start>+<held>", s)
	}
	var p Press
	var err error
	if p.At, err = time.ParseDuration(strings.TrimSpace(at)); err != nil {
		return Press{}, fmt.Errorf("press %q: %w", s, err)
	}
	if p.Held, err = time.ParseDuration(strings.TrimSpace(held)); err != nil {
		return Press{}, fmt.Errorf("press %q: %w", s, err)
	}
	return p, nil
}

// ScriptedButton is asserted while the clock is inside any scripted press.
type ScriptedButton struct {
	Clock   timex.Clock
	Boot    time.Time
	Presses []Press
}

func (b *ScriptedButton) Asserted() bool {
	el := b.Clock.Now().Sub(b.Boot)
	for _, p := range b.Presses {
		if el >= p.At && el < p.At+p.Held {
			return true
		}
	}
	return false
}

// ----------------------------- Power (sim) -----------------------------------

// SimPower records sleep and restart requests instead of acting on them.
type SimPower struct {
	mu       sync.Mutex
	Slept    []time.Duration
	Restarts int
	SleepErr error
}

func (p *SimPower) Sleep(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Slept = append(p.Slept, d)
	return p.SleepErr
}

func (p *SimPower) Restart() error {
	p.mu.Lock()
	p.Restarts++
	p.mu.Unlock()
	return nil
}

// ----------------------------- Battery (sim) ---------------------------------

// SimSampler returns a fixed tap voltage.
type SimSampler struct{ MilliVolts int32 }

func (s SimSampler) SampleMilliVolts() (int32, error) { return s.MilliVolts, nil }

// ----------------------------- Board (sim) -----------------------------------

// OpenSim builds an in-process board driven by clk. The sampler reports
// cfg.Sim.MilliVolts as the battery voltage (already divided back to the
// tap).
func OpenSim(cfg types.Config, clk timex.Clock) (*Board, error) {
	if clk == nil {
		clk = timex.System{}
	}
	btn := &ScriptedButton{Clock: clk, Boot: clk.Now()}
	for _, s := range cfg.Sim.Presses {
		p, err := ParsePress(s)
		if err != nil {
			return nil, err
		}
		btn.Presses = append(btn.Presses, p)
	}

	tap := cfg.Sim.MilliVolts
	if r1, r2 := cfg.Battery.R1, cfg.Battery.R2; r2 != 0 {
		tap = int32(int64(tap) * int64(r2) / int64(r1+r2))
	}

	return &Board{
		Button:  btn,
		Relay:   &LineRelay{Line: &SimPin{}},
		Wake:    &WakeDetector{Override: cfg.Wake.Cause, File: cfg.Wake.CauseFile, Button: btn},
		Power:   &SimPower{},
		Sampler: SimSampler{MilliVolts: tap},
	}, nil
}
