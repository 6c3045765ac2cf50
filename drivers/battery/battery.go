// Package battery turns raw ADC conversions at a resistor divider tap into
// battery voltage and state-of-charge readings.
package battery

import (
	"errors"

	"doorbell-go/errcode"
	"doorbell-go/types"
	"doorbell-go/x/mathx"
)

// Defaults for the 202.5k/199k divider on the doorbell board.
const (
	DefaultSamples = 16
	DefaultR1      = 202500
	DefaultR2      = 199000
)

// Sampler performs one calibrated conversion and returns millivolts at the
// ADC pin.
type Sampler interface {
	SampleMilliVolts() (int32, error)
}

// Config describes the divider and averaging.
type Config struct {
	Samples int
	R1, R2  uint32 // R1 top (battery side), R2 bottom (ground side)
}

func (c Config) withDefaults() Config {
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.R2 == 0 {
		c.R1, c.R2 = DefaultR1, DefaultR2
	}
	return c
}

// Monitor reads the battery through a Sampler. It holds no state between
// calls and must only be used from one goroutine.
type Monitor struct {
	s   Sampler
	cfg Config
}

func New(s Sampler, cfg Config) *Monitor {
	return &Monitor{s: s, cfg: cfg.withDefaults()}
}

var errNoSampler = errors.New("battery: no sampler")

// ReadVoltage averages the configured number of samples and scales the
// result by (R1+R2)/R2. Returns battery millivolts.
func (m *Monitor) ReadVoltage() (uint32, error) {
	if m == nil || m.s == nil {
		return 0, errNoSampler
	}
	var sum int64
	for i := 0; i < m.cfg.Samples; i++ {
		mv, err := m.s.SampleMilliVolts()
		if err != nil {
			return 0, &errcode.E{C: errcode.SampleFailed, Op: "battery.read", Err: err}
		}
		sum += int64(mathx.Clamp(mv, 0, 1<<20))
	}
	avg := uint64(sum / int64(m.cfg.Samples))
	return uint32(avg * uint64(m.cfg.R1+m.cfg.R2) / uint64(m.cfg.R2)), nil
}

// Read returns voltage and percentage in one reading.
func (m *Monitor) Read() (types.BatteryReading, error) {
	mv, err := m.ReadVoltage()
	if err != nil {
		return types.BatteryReading{}, err
	}
	return types.BatteryReading{MilliVolts: mv, Percent: ToPercent(mv)}, nil
}
