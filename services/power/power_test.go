package power

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"doorbell-go/bus"
	"doorbell-go/drivers/battery"
	"doorbell-go/errcode"
	"doorbell-go/services/hal"
	"doorbell-go/services/session"
	"doorbell-go/types"
	"doorbell-go/x/ring"
	"doorbell-go/x/timex"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -----------------------------------------------------------------------------
// fakes
// -----------------------------------------------------------------------------

type recorder struct {
	mu  sync.Mutex
	evs []types.Event
	err error
}

func (r *recorder) Send(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return r.err
}

func (r *recorder) triggers() []types.TriggerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TriggerEvent, 0, len(r.evs))
	for _, e := range r.evs {
		out = append(out, e.Trigger)
	}
	return out
}

// silentSession never acknowledges shutdown.
type silentSession struct{ ch chan struct{} }

func (s silentSession) Terminated() <-chan struct{} { return s.ch }

type brokenPower struct{}

func (brokenPower) Sleep(time.Duration) error { return nil }
func (brokenPower) Restart() error            { return errors.New("exec format error") }

type fixture struct {
	board *hal.Board
	clk   *timex.Manual
	rec   *recorder
	deps  Deps
}

func newFixture(t *testing.T, cause string, presses ...string) *fixture {
	t.Helper()
	clk := timex.NewManual(time.Time{})
	board, err := hal.OpenSim(types.Config{
		Sim:     types.SimConfig{Presses: presses, MilliVolts: 4020},
		Battery: types.BatteryConfig{R1: battery.DefaultR1, R2: battery.DefaultR2},
		Wake:    types.WakeConfig{Cause: cause},
	}, clk)
	require.NoError(t, err)

	rec := &recorder{}
	return &fixture{
		board: board,
		clk:   clk,
		rec:   rec,
		deps: Deps{
			Button:  board.Button,
			Relay:   board.Relay,
			Wake:    board.Wake,
			Power:   board.Power,
			Battery: battery.New(board.Sampler, battery.Config{}),
			Events:  rec,
			Clock:   clk,
			Log:     zerolog.Nop(),
		},
	}
}

func (f *fixture) pulses() int {
	return f.board.Relay.(*hal.LineRelay).Line.(*hal.SimPin).Pulses()
}

func (f *fixture) power() *hal.SimPower { return f.board.Power.(*hal.SimPower) }

func sleepingConfig() Config {
	c := DefaultConfig()
	c.SleepDisabled = false
	return c
}

// -----------------------------------------------------------------------------
// window selection
// -----------------------------------------------------------------------------

func TestWindowFor(t *testing.T) {
	c := sleepingConfig()
	assert.Equal(t, c.Short, c.WindowFor(types.WakeTimer))
	assert.Equal(t, c.Long, c.WindowFor(types.WakeSignal))
	assert.Equal(t, c.Long, c.WindowFor(types.WakeOther))

	c.SleepDisabled = true
	for _, cause := range []types.WakeCause{types.WakeTimer, types.WakeSignal, types.WakeOther} {
		assert.Equal(t, c.Debug, c.WindowFor(cause), cause)
	}
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(types.Config{})
	assert.True(t, c.SleepDisabled)
	assert.Equal(t, 3, c.MinPulses)
	assert.Equal(t, 10*time.Millisecond, c.PollTick)
	assert.Equal(t, 500*time.Millisecond, c.AckTimeout)

	c = ConfigFrom(types.Config{
		Awake: types.AwakeConfig{Short: 2 * time.Second},
		Chime: types.ChimeConfig{MinPulses: 5, High: 100 * time.Millisecond},
		Sleep: types.SleepConfig{Enabled: true, Duration: time.Minute},
	})
	assert.False(t, c.SleepDisabled)
	assert.Equal(t, 2*time.Second, c.Short)
	assert.Equal(t, 15*time.Second, c.Long)
	assert.Equal(t, 5, c.MinPulses)
	assert.Equal(t, 100*time.Millisecond, c.PulseHigh)
	assert.Equal(t, time.Minute, c.SleepDuration)
}

// -----------------------------------------------------------------------------
// trigger sequence
// -----------------------------------------------------------------------------

func TestTrigger_PulseCount(t *testing.T) {
	cases := []struct {
		held string
		want int
	}{
		{"100ms", 3},
		{"1200ms", 3},
		{"1800ms", 3},
		{"2000ms", 4},
		{"3000ms", 5},
	}
	for _, tc := range cases {
		t.Run(tc.held, func(t *testing.T) {
			f := newFixture(t, "", "0s+"+tc.held)
			o := New(sleepingConfig(), f.deps)
			start := f.clk.Now()

			n := o.Trigger(context.Background())
			assert.Equal(t, tc.want, n)
			assert.Equal(t, tc.want, f.pulses())
			assert.Equal(t, []types.TriggerEvent{types.TriggerPress, types.TriggerRelease}, f.rec.triggers())
			assert.Equal(t, time.Duration(tc.want)*600*time.Millisecond, f.clk.Now().Sub(start))
		})
	}
}

func TestTrigger_RelayErrorsDoNotStopChime(t *testing.T) {
	f := newFixture(t, "", "0s+10ms")
	f.deps.Relay = relayFunc(func(bool) error { return errors.New("EBUSY") })
	start := f.clk.Now()

	n := New(sleepingConfig(), f.deps).Trigger(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, 1800*time.Millisecond, f.clk.Now().Sub(start))
}

type relayFunc func(bool) error

func (f relayFunc) Set(on bool) error { return f(on) }

// -----------------------------------------------------------------------------
// polling and idle
// -----------------------------------------------------------------------------

func TestRun_IdleWithinWindowPlusTick(t *testing.T) {
	f := newFixture(t, "timer")
	cfg := sleepingConfig()
	o := New(cfg, f.deps)

	require.NoError(t, o.Run(context.Background()))
	c := o.Cycle()
	idle := c.Idle.Sub(c.Boot)
	assert.Equal(t, cfg.Short, c.Window)
	assert.Greater(t, idle, cfg.Short)
	assert.LessOrEqual(t, idle, cfg.Short+cfg.PollTick)
}

func TestRun_PressDuringWindowResetsIdle(t *testing.T) {
	f := newFixture(t, "other", "5s+100ms")
	cfg := sleepingConfig()
	o := New(cfg, f.deps)

	require.NoError(t, o.Run(context.Background()))
	c := o.Cycle()
	assert.Equal(t, types.WakeOther, c.Cause)
	assert.Equal(t, 1, c.Triggers)
	assert.Equal(t, 3, c.Pulses)
	// Press seen at 5 s, chime ends 1.8 s later, then a full long window.
	assert.Equal(t, 5*time.Second+1800*time.Millisecond+cfg.Long+cfg.PollTick, c.Idle.Sub(c.Boot))
	assert.Equal(t,
		[]types.TriggerEvent{types.TriggerPress, types.TriggerRelease, types.TriggerShutdown},
		f.rec.triggers())
}

func TestRun_PublishesPhases(t *testing.T) {
	f := newFixture(t, "timer")
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(TopicPhase)
	f.deps.Status = b.NewConnection("power")

	require.NoError(t, New(sleepingConfig(), f.deps).Run(context.Background()))

	var got []types.Phase
	for len(sub.Channel()) > 0 {
		m := <-sub.Channel()
		got = append(got, m.Payload.(types.PhaseStatus).Phase)
	}
	assert.Equal(t, []types.Phase{
		types.PhaseBooting, types.PhaseTimerWake, types.PhasePolling,
		types.PhaseIdle, types.PhaseDraining, types.PhaseSleeping,
	}, got)
}

// -----------------------------------------------------------------------------
// drain and sleep
// -----------------------------------------------------------------------------

func TestRun_DrainBoundedWithUnresponsiveSession(t *testing.T) {
	f := newFixture(t, "timer")
	f.deps.Session = silentSession{ch: make(chan struct{})}
	o := New(sleepingConfig(), f.deps)

	start := time.Now()
	require.NoError(t, o.Run(context.Background()))
	elapsed := time.Since(start)

	assert.False(t, o.Cycle().Acked)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Len(t, f.power().Slept, 1)
}

func fullRing(t *testing.T) *ring.Ring[types.Event] {
	t.Helper()
	q := ring.New[types.Event](8)
	for q.TrySend(types.Event{Trigger: types.TriggerPress}) {
	}
	require.Equal(t, q.Cap(), q.Len())
	return q
}

func TestRun_DrainBoundedWithFullChannel(t *testing.T) {
	f := newFixture(t, "timer")
	f.deps.Events = fullRing(t)
	f.deps.Session = silentSession{ch: make(chan struct{})}
	cfg := sleepingConfig()
	cfg.SendTimeout = 300 * time.Millisecond
	cfg.AckTimeout = 200 * time.Millisecond
	o := New(cfg, f.deps)

	start := time.Now()
	require.NoError(t, o.Run(context.Background()))
	elapsed := time.Since(start)

	// Shutdown send and ack wait share the AckTimeout budget.
	assert.False(t, o.Cycle().Acked)
	assert.GreaterOrEqual(t, elapsed, cfg.AckTimeout)
	assert.Less(t, elapsed, cfg.AckTimeout+150*time.Millisecond)
	assert.Len(t, f.power().Slept, 1)
}

func TestTrigger_FullChannelDoesNotDelayChime(t *testing.T) {
	f := newFixture(t, "", "0s+100ms")
	f.deps.Events = fullRing(t)
	o := New(sleepingConfig(), f.deps)

	start := time.Now()
	assert.Equal(t, 3, o.Trigger(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, f.pulses())
}

func TestRun_ShutdownCarriesBattery(t *testing.T) {
	f := newFixture(t, "timer")
	o := New(sleepingConfig(), f.deps)
	require.NoError(t, o.Run(context.Background()))

	require.Len(t, f.rec.evs, 1)
	ev := f.rec.evs[0]
	assert.Equal(t, types.TriggerShutdown, ev.Trigger)
	assert.InDelta(t, 4020, int(ev.Battery.MilliVolts), 5)
	assert.Equal(t, battery.ToPercent(ev.Battery.MilliVolts), ev.Battery.Percent)
}

func TestRun_ClosedChannelIsSoft(t *testing.T) {
	f := newFixture(t, "", "0s+100ms")
	q := ring.New[types.Event](8)
	q.Close()
	f.deps.Events = q

	o := New(sleepingConfig(), f.deps)
	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 3, f.pulses())
	assert.Len(t, f.power().Slept, 1)
}

func TestRun_SleepReturnsThenRestart(t *testing.T) {
	f := newFixture(t, "timer")
	f.power().SleepErr = errors.New("rtc busy")

	require.NoError(t, New(sleepingConfig(), f.deps).Run(context.Background()))
	assert.Equal(t, []time.Duration{60 * time.Minute}, f.power().Slept)
	assert.Equal(t, 1, f.power().Restarts)
}

func TestRun_RestartFailureIsFatal(t *testing.T) {
	f := newFixture(t, "timer")
	f.deps.Power = brokenPower{}

	err := New(sleepingConfig(), f.deps).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errcode.SleepFailed, errcode.Of(err))
}

func TestRun_SleepDisabled(t *testing.T) {
	f := newFixture(t, "timer")
	cfg := DefaultConfig()
	cfg.SleepDisabled = true
	o := New(cfg, f.deps)

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, cfg.Debug, o.Cycle().Window)
	assert.Empty(t, f.power().Slept)
	assert.Equal(t, 1, f.power().Restarts)
}

func TestRun_CancelledStillShutsDownWorker(t *testing.T) {
	f := newFixture(t, "timer")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(sleepingConfig(), f.deps).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []types.TriggerEvent{types.TriggerShutdown}, f.rec.triggers())
	assert.Empty(t, f.power().Slept)
	assert.Zero(t, f.power().Restarts)
}

// -----------------------------------------------------------------------------
// end to end: orchestrator + ring + session over the log transport
// -----------------------------------------------------------------------------

type e2e struct {
	*fixture
	sent func() []session.Published
	sess *session.Session
}

func newE2E(t *testing.T, cause string, presses ...string) *e2e {
	t.Helper()
	f := newFixture(t, cause, presses...)

	q := ring.New[types.Event](8)
	tr, err := session.NewTransport(session.TransportConfig{Type: "log", Log: zerolog.Nop()})
	require.NoError(t, err)
	sess := session.New(session.Config{ReceivePoll: 20 * time.Millisecond}, session.Deps{
		Events:    q,
		Transport: tr,
		Log:       zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-sess.Terminated()
	})
	sess.Start(ctx)

	f.deps.Events = q
	f.deps.Session = sess
	return &e2e{fixture: f, sent: tr.(*session.LogTransport).Sent, sess: sess}
}

func topicsAndPayloads(ps []session.Published) [][2]string {
	out := make([][2]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, [2]string{p.Topic, p.Payload})
	}
	return out
}

func TestEndToEnd_SignalWake(t *testing.T) {
	e := newE2E(t, "", "0s+1200ms")
	b := bus.NewBus(8)
	chime := b.NewConnection("test").Subscribe(TopicChime)
	e.deps.Status = b.NewConnection("power")

	cfg := sleepingConfig()
	o := New(cfg, e.deps)
	require.NoError(t, o.Run(context.Background()))

	c := o.Cycle()
	assert.Equal(t, types.WakeSignal, c.Cause)
	assert.Equal(t, cfg.Long, c.Window)
	assert.Equal(t, 3, c.Pulses)
	assert.Equal(t, 3, e.pulses())
	assert.True(t, c.Acked)
	assert.Equal(t, types.SessionDisconnected, e.sess.State())

	// Polling resumed after the chime with the long window.
	assert.Equal(t, 1800*time.Millisecond+cfg.Long+cfg.PollTick, c.Idle.Sub(c.Boot))

	pct := battery.ToPercent(c.Battery.MilliVolts)
	assert.Equal(t, [][2]string{
		{"doorbell/button", "on"},
		{"doorbell/button", "off"},
		{"doorbell/battery_voltage", "4.02"},
		{"doorbell/battery_percent", strconv.Itoa(int(pct))},
	}, topicsAndPayloads(e.sent()))

	select {
	case m := <-chime.Channel():
		assert.Equal(t, 3, m.Payload.(types.ChimeStatus).Pulses)
	default:
		t.Fatal("no chime status")
	}
	assert.Equal(t, []time.Duration{60 * time.Minute}, e.power().Slept)
}

func TestEndToEnd_SignalWakeLongHold(t *testing.T) {
	e := newE2E(t, "", "0s+2000ms")
	o := New(sleepingConfig(), e.deps)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, 4, o.Cycle().Pulses)
	assert.Equal(t, 4, e.pulses())
}

func TestEndToEnd_TimerWake(t *testing.T) {
	e := newE2E(t, "timer")
	cfg := sleepingConfig()
	o := New(cfg, e.deps)
	require.NoError(t, o.Run(context.Background()))

	c := o.Cycle()
	assert.Equal(t, types.WakeTimer, c.Cause)
	assert.Zero(t, c.Pulses)
	assert.Zero(t, e.pulses())
	assert.LessOrEqual(t, c.Idle.Sub(c.Boot), cfg.Short+cfg.PollTick)
	assert.True(t, c.Acked)

	for _, p := range e.sent() {
		assert.NotEqual(t, "doorbell/button", p.Topic)
	}
	assert.Len(t, e.sent(), 2)
}
