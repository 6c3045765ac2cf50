package types

import "fmt"

// ------------------------
// Wake / power phases
// ------------------------

// WakeCause is why the device left deep sleep. Determined once per boot.
type WakeCause string

const (
	WakeTimer  WakeCause = "timer"
	WakeSignal WakeCause = "signal"
	WakeOther  WakeCause = "other"
)

// ParseWakeCause accepts the canonical names plus a few aliases used by
// power controllers ("rtc", "gpio", "ext0").
func ParseWakeCause(s string) (WakeCause, error) {
	switch s {
	case "timer", "rtc":
		return WakeTimer, nil
	case "signal", "gpio", "ext0", "button":
		return WakeSignal, nil
	case "other", "", "poweron", "undefined":
		return WakeOther, nil
	}
	return WakeOther, fmt.Errorf("unknown wake cause %q", s)
}

// Phase is the orchestrator state.
type Phase string

const (
	PhaseBooting    Phase = "booting"
	PhaseTimerWake  Phase = "timer_wake"
	PhaseSignalWake Phase = "signal_wake"
	PhaseOtherWake  Phase = "other_wake"
	PhasePolling    Phase = "polling"
	PhaseIdle       Phase = "idle"
	PhaseDraining   Phase = "draining"
	PhaseSleeping   Phase = "sleeping"
)

// ------------------------
// Battery
// ------------------------

// BatteryReading is one on-demand battery measurement. Never cached.
type BatteryReading struct {
	MilliVolts uint32 `json:"mV"`
	Percent    uint8  `json:"percent"`
}

// Volts returns the reading in volts.
func (b BatteryReading) Volts() float64 { return float64(b.MilliVolts) / 1000 }

// IsZero reports whether no measurement is present.
func (b BatteryReading) IsZero() bool { return b.MilliVolts == 0 }
