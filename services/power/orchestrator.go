// Package power runs one wake cycle of the doorbell: it interprets the wake
// cause, rings the chime for button presses during the awake window, hands
// press and shutdown events to the network worker, and puts the device back
// to sleep.
package power

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"doorbell-go/bus"
	"doorbell-go/errcode"
	"doorbell-go/types"
	"doorbell-go/x/timex"
)

var (
	TopicPhase = bus.T("doorbell", "phase")
	TopicChime = bus.T("doorbell", "chime")
)

// ---- Collaborators ----

type Button interface {
	Asserted() bool
}

type Relay interface {
	Set(on bool) error
}

type WakeSource interface {
	WakeCause() types.WakeCause
}

// Power suspends the device. Sleep returning at all (nil or not) means the
// device is still running and must be restarted.
type Power interface {
	Sleep(d time.Duration) error
	Restart() error
}

type Battery interface {
	Read() (types.BatteryReading, error)
}

// Notifier is the producer end of the notification channel.
type Notifier interface {
	Send(ctx context.Context, ev types.Event) error
}

// Session is the part of the network worker the orchestrator observes.
type Session interface {
	Terminated() <-chan struct{}
}

// ---- Configuration ----

type Config struct {
	Long     time.Duration
	Short    time.Duration
	Debug    time.Duration
	PollTick time.Duration

	MinPulses int
	PulseHigh time.Duration
	PulseLow  time.Duration

	// SleepDisabled keeps the device on the debug window and restarts
	// instead of sleeping.
	SleepDisabled bool
	SleepDuration time.Duration

	// SendTimeout bounds Press and Release sends so a full channel never
	// holds up the relay. AckTimeout bounds the whole drain, Shutdown send
	// included.
	SendTimeout time.Duration
	AckTimeout  time.Duration
}

// DefaultConfig matches the doorbell hardware.
func DefaultConfig() Config {
	return Config{
		Long:          15 * time.Second,
		Short:         time.Second,
		Debug:         60 * time.Second,
		PollTick:      10 * time.Millisecond,
		MinPulses:     3,
		PulseHigh:     300 * time.Millisecond,
		PulseLow:      300 * time.Millisecond,
		SleepDuration: 60 * time.Minute,
		SendTimeout:   10 * time.Millisecond,
		AckTimeout:    500 * time.Millisecond,
	}
}

// ConfigFrom maps the device configuration onto the orchestrator's, falling
// back to DefaultConfig for unset values.
func ConfigFrom(c types.Config) Config {
	d := DefaultConfig()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&d.Long, c.Awake.Long)
	set(&d.Short, c.Awake.Short)
	set(&d.Debug, c.Awake.Debug)
	set(&d.PollTick, c.Awake.PollTick)
	set(&d.PulseHigh, c.Chime.High)
	set(&d.PulseLow, c.Chime.Low)
	set(&d.SleepDuration, c.Sleep.Duration)
	set(&d.SendTimeout, c.Network.SendTimeout)
	set(&d.AckTimeout, c.Network.AckTimeout)
	if c.Chime.MinPulses > 0 {
		d.MinPulses = c.Chime.MinPulses
	}
	d.SleepDisabled = !c.Sleep.Enabled
	return d
}

// WindowFor returns the awake window for a wake cause: short after a timer
// wake, long otherwise, and the debug window whenever sleep is disabled.
func (c Config) WindowFor(cause types.WakeCause) time.Duration {
	switch {
	case c.SleepDisabled:
		return c.Debug
	case cause == types.WakeTimer:
		return c.Short
	default:
		return c.Long
	}
}

// ---- Orchestrator ----

type Deps struct {
	Button  Button
	Relay   Relay
	Wake    WakeSource
	Power   Power
	Battery Battery
	Events  Notifier
	Session Session         // nil: no acknowledgement is awaited
	Clock   timex.Clock     // nil: wall clock
	Status  *bus.Connection // optional
	Log     zerolog.Logger
}

// Cycle summarises one wake cycle. Read it after Run returns.
type Cycle struct {
	Cause    types.WakeCause
	Window   time.Duration
	Boot     time.Time
	Idle     time.Time
	Triggers int
	Pulses   int
	Battery  types.BatteryReading
	Acked    bool
}

// Orchestrator owns the control goroutine. Every collaborator is touched
// from Run only.
type Orchestrator struct {
	cfg   Config
	d     Deps
	clk   timex.Clock
	log   zerolog.Logger
	phase types.Phase
	cycle Cycle
}

func New(cfg Config, d Deps) *Orchestrator {
	clk := d.Clock
	if clk == nil {
		clk = timex.System{}
	}
	return &Orchestrator{cfg: cfg, d: d, clk: clk, log: d.Log}
}

// Cycle returns the summary of the last Run.
func (o *Orchestrator) Cycle() Cycle { return o.cycle }

// Run drives the device from boot to sleep. On hardware it does not return
// unless both sleep and restart fail (errcode.SleepFailed). When ctx ends
// during the awake window the worker is still shut down, but Run returns
// ctx.Err() without sleeping.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.cycle = Cycle{Boot: o.clk.Now()}
	o.setPhase(types.PhaseBooting)

	if r, err := o.d.Battery.Read(); err != nil {
		o.log.Warn().Err(err).Msg("battery read at boot")
	} else {
		o.log.Info().Uint32("mV", r.MilliVolts).Uint8("percent", r.Percent).Msg("battery")
	}

	cause := o.d.Wake.WakeCause()
	o.cycle.Cause = cause
	o.cycle.Window = o.cfg.WindowFor(cause)
	if o.cfg.SleepDisabled {
		o.log.Warn().Dur("window", o.cycle.Window).Msg("sleep disabled")
	}

	switch cause {
	case types.WakeTimer:
		o.setPhase(types.PhaseTimerWake)
		o.log.Info().Msg("woken by timer")
	case types.WakeSignal:
		o.setPhase(types.PhaseSignalWake)
		o.log.Info().Msg("woken by button")
		o.Trigger(ctx)
	default:
		o.setPhase(types.PhaseOtherWake)
		o.log.Info().Str("cause", string(cause)).Msg("woken by other cause")
	}

	o.setPhase(types.PhasePolling)
	perr := o.poll(ctx)
	o.cycle.Idle = o.clk.Now()
	o.setPhase(types.PhaseIdle)

	o.setPhase(types.PhaseDraining)
	o.drain(context.WithoutCancel(ctx))
	if perr != nil {
		o.log.Info().Err(perr).Msg("interrupted; not sleeping")
		return perr
	}

	o.setPhase(types.PhaseSleeping)
	return o.sleep()
}

// poll samples the button every tick until the window passes without a
// trigger. The tick delay precedes the idle comparison, so the window is
// overrun by at most one tick.
func (o *Orchestrator) poll(ctx context.Context) error {
	last := o.clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.clk.Sleep(o.cfg.PollTick)
		if o.d.Button.Asserted() {
			o.Trigger(ctx)
			last = o.clk.Now()
			continue
		}
		if o.clk.Now().Sub(last) > o.cycle.Window {
			return nil
		}
	}
}

// drain reads the final battery level, asks the worker to shut down and
// waits for its acknowledgement. Send and wait share one AckTimeout budget.
func (o *Orchestrator) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AckTimeout)
	defer cancel()

	r, err := o.d.Battery.Read()
	if err != nil {
		o.log.Warn().Err(err).Msg("final battery read")
	}
	o.cycle.Battery = r
	o.send(ctx, types.Event{Trigger: types.TriggerShutdown, Battery: r})

	if o.d.Session == nil {
		return
	}
	select {
	case <-o.d.Session.Terminated():
		o.cycle.Acked = true
		o.log.Debug().Msg("network worker terminated")
	case <-ctx.Done():
		o.log.Warn().Dur("after", o.cfg.AckTimeout).Msg("network worker did not acknowledge shutdown")
	}
}

func (o *Orchestrator) sleep() error {
	if o.cfg.SleepDisabled {
		o.log.Info().Msg("sleep disabled; restarting")
	} else {
		o.log.Info().Dur("for", o.cfg.SleepDuration).Msg("sleeping")
		err := o.d.Power.Sleep(o.cfg.SleepDuration)
		o.log.Error().Err(err).Msg("sleep returned; restarting")
	}
	if err := o.d.Power.Restart(); err != nil {
		return errcode.Wrap(errcode.SleepFailed, "power.restart", err)
	}
	return nil
}

// notify hands a trigger event to the worker within SendTimeout.
func (o *Orchestrator) notify(ctx context.Context, ev types.Event) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SendTimeout)
	defer cancel()
	o.send(ctx, ev)
}

// send delivers ev before ctx ends. Failures are soft.
func (o *Orchestrator) send(ctx context.Context, ev types.Event) {
	if err := o.d.Events.Send(ctx, ev); err != nil {
		lvl := zerolog.ErrorLevel
		switch errcode.Of(err) {
		case errcode.Closed, errcode.QueueFull, errcode.Timeout:
			lvl = zerolog.WarnLevel
		}
		o.log.WithLevel(lvl).Err(err).Stringer("event", ev.Trigger).Msg("event not delivered")
	}
}

func (o *Orchestrator) setPhase(p types.Phase) {
	prev := o.phase
	o.phase = p
	o.log.Debug().Str("from", string(prev)).Str("to", string(p)).Msg("phase")
	if o.d.Status == nil {
		return
	}
	o.d.Status.Publish(o.d.Status.NewMessage(TopicPhase, types.PhaseStatus{
		Phase:  p,
		Cause:  o.cycle.Cause,
		Window: o.cycle.Window.Milliseconds(),
		TS:     o.clk.Now().UnixMilli(),
	}, true))
}
