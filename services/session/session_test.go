package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"doorbell-go/bus"
	"doorbell-go/errcode"
	"doorbell-go/types"
	"doorbell-go/x/ring"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -----------------------------------------------------------------------------
// fakes
// -----------------------------------------------------------------------------

type fakeLink struct {
	StaticLink
	mu       sync.Mutex
	failures int // fail this many Up calls first
	ups      int
	downs    int
}

func (l *fakeLink) Up(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ups++
	if l.ups <= l.failures {
		return errors.New("no ap")
	}
	return nil
}

func (l *fakeLink) Down() error {
	l.mu.Lock()
	l.downs++
	l.mu.Unlock()
	return nil
}

type pendingDelivery struct {
	done chan struct{}
	err  error
}

func (d *pendingDelivery) Done() <-chan struct{} { return d.done }
func (d *pendingDelivery) Error() error          { return d.err }

// stuckTransport connects but never completes a delivery.
type stuckTransport struct {
	LogTransport
	closed bool
}

func (t *stuckTransport) Publish(topic string, payload []byte, retain bool) Delivery {
	t.LogTransport.Publish(topic, payload, retain)
	return &pendingDelivery{done: make(chan struct{})}
}

func (t *stuckTransport) Close() {
	t.closed = true
	t.LogTransport.Close()
}

func testConfig() Config {
	return Config{
		Retries:      2,
		RetryBackoff: time.Millisecond,
		ReceivePoll:  20 * time.Millisecond,
		DrainTimeout: 100 * time.Millisecond,
		DrainPoll:    5 * time.Millisecond,
		TopicPrefix:  "doorbell",
		Retain:       true,
	}
}

func waitTerminated(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Terminated():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func send(t *testing.T, q *ring.Ring[types.Event], ev types.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Send(ctx, ev))
}

// -----------------------------------------------------------------------------
// worker
// -----------------------------------------------------------------------------

func TestSession_PublishesEventsAndFinalBattery(t *testing.T) {
	q := ring.New[types.Event](8)
	tr := newLogTransport(TransportConfig{Log: zerolog.Nop()})
	link := &fakeLink{}
	s := New(testConfig(), Deps{Events: q, Link: link, Transport: tr, Log: zerolog.Nop()})

	s.Start(context.Background())

	got, err := s.WaitFlags(context.Background(), FlagConnected|FlagFailed)
	require.NoError(t, err)
	require.Equal(t, FlagConnected, got)
	assert.Equal(t, types.SessionConnected, s.State())

	send(t, q, types.Event{Trigger: types.TriggerPress})
	send(t, q, types.Event{Trigger: types.TriggerRelease})
	send(t, q, types.Event{Trigger: types.TriggerShutdown, Battery: types.BatteryReading{MilliVolts: 3700, Percent: 10}})
	waitTerminated(t, s)

	assert.Equal(t, []Published{
		{Topic: "doorbell/button", Payload: "on", Retain: true},
		{Topic: "doorbell/button", Payload: "off", Retain: true},
		{Topic: "doorbell/battery_voltage", Payload: "3.70", Retain: true},
		{Topic: "doorbell/battery_percent", Payload: "10", Retain: true},
	}, tr.Sent())

	f := s.Flags()
	assert.NotZero(t, f&FlagShutdown)
	assert.NotZero(t, f&FlagTerminated)
	assert.Equal(t, types.SessionDisconnected, s.State())
	assert.False(t, tr.Connected())
	assert.Equal(t, 1, link.downs)
	assert.True(t, q.Closed())
}

func TestSession_LinkFailureDropsPublishes(t *testing.T) {
	q := ring.New[types.Event](8)
	tr := newLogTransport(TransportConfig{Log: zerolog.Nop()})
	link := &fakeLink{failures: 10}
	s := New(testConfig(), Deps{Events: q, Link: link, Transport: tr, Log: zerolog.Nop()})

	s.Start(context.Background())
	got, err := s.WaitFlags(context.Background(), FlagConnected|FlagFailed)
	require.NoError(t, err)
	require.Equal(t, FlagFailed, got)
	assert.Equal(t, types.SessionFailed, s.State())
	assert.Equal(t, 3, link.ups, "one attempt plus two retries")

	send(t, q, types.Event{Trigger: types.TriggerPress})
	send(t, q, types.Event{Trigger: types.TriggerShutdown, Battery: types.BatteryReading{MilliVolts: 4100, Percent: 85}})
	waitTerminated(t, s)

	assert.Empty(t, tr.Sent())
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, types.SessionFailed, s.State())

	// Producer is released once the worker has gone.
	assert.Equal(t, errcode.Closed, q.Send(context.Background(), types.Event{Trigger: types.TriggerPress}))
}

func TestSession_RetriesUntilLinkUp(t *testing.T) {
	q := ring.New[types.Event](8)
	link := &fakeLink{failures: 2}
	s := New(testConfig(), Deps{Events: q, Link: link, Transport: newLogTransport(TransportConfig{Log: zerolog.Nop()}), Log: zerolog.Nop()})

	assert.Equal(t, types.SessionConnected, s.Connect(context.Background()))
	assert.Equal(t, 3, link.ups)
	s.DrainAndStop()
}

func TestSession_NoTransportFails(t *testing.T) {
	s := New(testConfig(), Deps{Events: ring.New[types.Event](2), Log: zerolog.Nop()})
	assert.Equal(t, types.SessionFailed, s.Connect(context.Background()))
}

func TestSession_DrainIsBounded(t *testing.T) {
	q := ring.New[types.Event](8)
	tr := &stuckTransport{LogTransport: LogTransport{log: zerolog.Nop()}}
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	pubs := conn.Subscribe(TopicPublish)

	cfg := testConfig()
	s := New(cfg, Deps{Events: q, Transport: tr, Status: conn, Log: zerolog.Nop()})
	require.Equal(t, types.SessionConnected, s.Connect(context.Background()))

	s.PublishButton(true)
	start := time.Now()
	s.DrainAndStop()
	el := time.Since(start)

	assert.GreaterOrEqual(t, el, cfg.DrainTimeout)
	assert.Less(t, el, cfg.DrainTimeout+300*time.Millisecond)
	assert.True(t, tr.closed)

	select {
	case m := <-pubs.Channel():
		p := m.Payload.(types.PublishStatus)
		assert.Equal(t, types.PublishAbandoned, p.Result)
		assert.Equal(t, "doorbell/button", p.Topic)
	case <-time.After(time.Second):
		t.Fatal("no publish status")
	}
}

func TestSession_StatusOnBus(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(TopicStatus)

	q := ring.New[types.Event](4)
	s := New(testConfig(), Deps{Events: q, Transport: newLogTransport(TransportConfig{Log: zerolog.Nop()}), Status: conn, Log: zerolog.Nop()})
	s.Start(context.Background())
	send(t, q, types.Event{Trigger: types.TriggerShutdown})
	waitTerminated(t, s)

	var states []types.SessionState
	for len(states) < 3 {
		select {
		case m := <-sub.Channel():
			states = append(states, m.Payload.(types.SessionStatus).State)
		case <-time.After(time.Second):
			t.Fatalf("missing states, got %v", states)
		}
	}
	assert.Equal(t, []types.SessionState{types.SessionConnecting, types.SessionConnected, types.SessionDisconnected}, states)
}

func TestSession_ContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.StartupDelay = time.Hour
	s := New(cfg, Deps{Events: ring.New[types.Event](2), Log: zerolog.Nop()})
	s.Start(ctx)
	cancel()
	waitTerminated(t, s)
	assert.Equal(t, types.SessionDisconnected, s.State())
}

// -----------------------------------------------------------------------------
// flags
// -----------------------------------------------------------------------------

func TestFlagGroup_Wait(t *testing.T) {
	g := newFlagGroup()
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Set(FlagShutdown)
		g.Set(FlagTerminated)
	}()
	got, err := g.Wait(context.Background(), FlagTerminated)
	require.NoError(t, err)
	assert.Equal(t, FlagTerminated, got)
	assert.Equal(t, "shutdown|terminated", g.Get().String())

	g.Clear(FlagShutdown | FlagTerminated)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Wait(ctx, FlagConnected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "none", g.Get().String())
}
