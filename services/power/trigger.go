package power

import (
	"context"

	"doorbell-go/types"
)

// Trigger runs the chime sequence for one press: Press is sent, the relay
// is pulsed at least MinPulses times and for as long as the button stays
// asserted, then Release is sent. It returns the number of pulses.
func (o *Orchestrator) Trigger(ctx context.Context) int {
	start := o.clk.Now()
	o.notify(ctx, types.Event{Trigger: types.TriggerPress})

	n := 0
	for n < o.cfg.MinPulses || o.d.Button.Asserted() {
		o.pulse()
		n++
	}

	o.notify(ctx, types.Event{Trigger: types.TriggerRelease})

	held := o.clk.Now().Sub(start)
	o.cycle.Triggers++
	o.cycle.Pulses += n
	o.log.Info().Int("pulses", n).Dur("held", held).Msg("chime")
	if o.d.Status != nil {
		o.d.Status.Publish(o.d.Status.NewMessage(TopicChime, types.ChimeStatus{
			Pulses: n,
			HeldMs: held.Milliseconds(),
			TS:     o.clk.Now().UnixMilli(),
		}, false))
	}
	return n
}

func (o *Orchestrator) pulse() {
	if err := o.d.Relay.Set(true); err != nil {
		o.log.Warn().Err(err).Msg("relay on")
	}
	o.clk.Sleep(o.cfg.PulseHigh)
	if err := o.d.Relay.Set(false); err != nil {
		o.log.Warn().Err(err).Msg("relay off")
	}
	o.clk.Sleep(o.cfg.PulseLow)
}
