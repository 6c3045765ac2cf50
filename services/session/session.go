// Package session owns the network worker: link bring-up, the broker
// session, publishing doorbell events and the orderly shutdown handshake.
package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"doorbell-go/bus"
	"doorbell-go/errcode"
	"doorbell-go/types"
	"doorbell-go/x/strx"
	"doorbell-go/x/timex"
)

var (
	TopicStatus  = bus.T("doorbell", "session")
	TopicPublish = bus.T("doorbell", "publish")
)

// Broker topic suffixes.
const (
	SubtopicButton         = "button"
	SubtopicBatteryVoltage = "battery_voltage"
	SubtopicBatteryPercent = "battery_percent"
)

// Config holds the worker's timing and naming.
type Config struct {
	StartupDelay   time.Duration
	Retries        int // additional attempts after the first
	RetryBackoff   time.Duration
	AttemptTimeout time.Duration
	ReceivePoll    time.Duration
	DrainTimeout   time.Duration
	DrainPoll      time.Duration
	TopicPrefix    string
	Retain         bool
}

func (c Config) withDefaults() Config {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.ReceivePoll <= 0 {
		c.ReceivePoll = time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 500 * time.Millisecond
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 20 * time.Millisecond
	}
	c.TopicPrefix = strx.Coalesce(c.TopicPrefix, "doorbell")
	return c
}

// EventSource is the consumer end of the notification channel.
type EventSource interface {
	Receive(ctx context.Context, timeout time.Duration) (types.Event, bool)
	Close()
}

type Deps struct {
	Events    EventSource
	Link      Link
	Transport Transport       // nil: the session fails on connect
	Status    *bus.Connection // optional
	Log       zerolog.Logger
}

// Session is the transport session. The worker started by Start is its only
// writer; other goroutines observe it through State, Flags and Terminated.
type Session struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	flags *flagGroup
	state atomic.Value // types.SessionState
	term  chan struct{}

	pending atomic.Int64
	dropped atomic.Uint64
	watches sync.WaitGroup
	closed  chan struct{}
	closeMu sync.Once
}

func New(cfg Config, deps Deps) *Session {
	if deps.Link == nil {
		deps.Link = StaticLink{}
	}
	s := &Session{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		log:    deps.Log,
		flags:  newFlagGroup(),
		term:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	s.state.Store(types.SessionDisconnected)
	return s
}

// Start launches the worker goroutine.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Session) State() types.SessionState { return s.state.Load().(types.SessionState) }

func (s *Session) Flags() Flags { return s.flags.Get() }

// WaitFlags blocks until any flag in mask is set or ctx ends.
func (s *Session) WaitFlags(ctx context.Context, mask Flags) (Flags, error) {
	return s.flags.Wait(ctx, mask)
}

// Terminated is closed once the worker has fully shut down.
func (s *Session) Terminated() <-chan struct{} { return s.term }

// Dropped counts publishes discarded while not connected.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (s *Session) run(ctx context.Context) {
	defer s.terminate()

	if !sleep(ctx, s.cfg.StartupDelay) {
		return
	}
	if st := s.Connect(ctx); st != types.SessionConnected {
		s.log.Warn().Str("state", string(st)).Msg("offline; events will be dropped")
	}

	var final types.BatteryReading
	for running := true; running; {
		ev, ok := s.deps.Events.Receive(ctx, s.cfg.ReceivePoll)
		if ctx.Err() != nil {
			break
		}
		if !ok {
			s.checkConnection()
			continue
		}
		s.log.Debug().Stringer("event", ev.Trigger).Msg("event received")
		switch ev.Trigger {
		case types.TriggerPress:
			s.PublishButton(true)
		case types.TriggerRelease:
			s.PublishButton(false)
		case types.TriggerShutdown:
			final = ev.Battery
			running = false
		}
	}

	if s.State() == types.SessionConnected && !final.IsZero() {
		s.PublishBattery(final)
	}
	s.DrainAndStop()
}

func (s *Session) terminate() {
	s.flags.Set(FlagShutdown)
	if err := s.deps.Link.Down(); err != nil {
		s.log.Warn().Err(err).Msg("link down")
	}
	s.deps.Events.Close()
	s.flags.Set(FlagTerminated)
	close(s.term)
	s.log.Info().Uint64("dropped", s.Dropped()).Msg("session terminated")
}

func (s *Session) checkConnection() {
	if s.State() == types.SessionConnected && !s.deps.Transport.Connected() {
		s.setState(types.SessionDisconnected, errcode.NotConnected)
	}
}

// Connect brings the link and the broker session up. The attempt runs
// asynchronously and reports through FlagConnected or FlagFailed; Connect
// blocks until one of them is set.
func (s *Session) Connect(ctx context.Context) types.SessionState {
	s.flags.Clear(FlagConnected | FlagFailed)
	s.setState(types.SessionConnecting, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.connect(ctx)
	}()

	got, err := s.flags.Wait(ctx, FlagConnected|FlagFailed)
	<-done
	if err != nil || got&FlagConnected == 0 {
		return types.SessionFailed
	}
	return types.SessionConnected
}

func (s *Session) connect(ctx context.Context) {
	fail := func(err error) {
		s.setState(types.SessionFailed, err)
		s.flags.Set(FlagFailed)
	}
	if s.deps.Transport == nil {
		fail(&errcode.E{C: errcode.ConnectFailed, Op: "session.connect", Msg: "no transport"})
		return
	}
	if err := s.attempt(ctx, "link", errcode.LinkFailed, s.deps.Link.Up); err != nil {
		fail(err)
		return
	}
	if err := s.attempt(ctx, "broker", errcode.ConnectFailed, s.deps.Transport.Connect); err != nil {
		fail(err)
		return
	}
	s.setState(types.SessionConnected, nil)
	s.flags.Set(FlagConnected)
}

// attempt runs fn once plus cfg.Retries retries with a doubling backoff.
func (s *Session) attempt(ctx context.Context, what string, code errcode.Code, fn func(context.Context) error) error {
	backoff := backoffSeq(s.cfg.RetryBackoff, 8*s.cfg.RetryBackoff)
	var err error
	for i := 0; i <= s.cfg.Retries; i++ {
		if i > 0 {
			d := backoff()
			s.log.Info().Str("what", what).Int("attempt", i+1).Dur("in", d).Msg("retrying")
			if !sleep(ctx, d) {
				err = ctx.Err()
				break
			}
		}
		actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		err = fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("what", what).Int("attempt", i+1).Msg("connect attempt failed")
	}
	return &errcode.E{C: code, Op: "session." + what, Err: err}
}

// -----------------------------------------------------------------------------
// Publishing
// -----------------------------------------------------------------------------

// Publish queues one message. It never blocks; outside the Connected state
// the message is dropped.
func (s *Session) Publish(topic, payload string, retain bool) {
	if s.State() != types.SessionConnected {
		s.dropped.Add(1)
		s.log.Debug().Str("topic", topic).Msg("not connected; publish dropped")
		s.publishResult(topic, types.PublishDropped, nil)
		return
	}
	d := s.deps.Transport.Publish(topic, []byte(payload), retain)
	s.pending.Add(1)
	s.watches.Add(1)
	go s.watch(topic, d)
}

func (s *Session) watch(topic string, d Delivery) {
	defer s.watches.Done()
	defer s.pending.Add(-1)
	select {
	case <-d.Done():
		if err := d.Error(); err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
			s.publishResult(topic, types.PublishFailed, err)
			return
		}
		s.log.Debug().Str("topic", topic).Msg("published")
		s.publishResult(topic, types.PublishDelivered, nil)
	case <-s.closed:
		s.publishResult(topic, types.PublishAbandoned, nil)
	}
}

func (s *Session) topic(sub string) string { return s.cfg.TopicPrefix + "/" + sub }

// PublishButton reports the button state as "on" or "off".
func (s *Session) PublishButton(pressed bool) {
	v := "off"
	if pressed {
		v = "on"
	}
	s.Publish(s.topic(SubtopicButton), v, s.cfg.Retain)
}

// PublishBattery reports volts with two decimals and the integer percent.
func (s *Session) PublishBattery(r types.BatteryReading) {
	s.Publish(s.topic(SubtopicBatteryVoltage), strconv.FormatFloat(r.Volts(), 'f', 2, 64), s.cfg.Retain)
	s.Publish(s.topic(SubtopicBatteryPercent), strconv.Itoa(int(r.Percent)), s.cfg.Retain)
}

// DrainAndStop waits (bounded) for outstanding publishes when connected,
// then closes the transport.
func (s *Session) DrainAndStop() {
	if s.State() == types.SessionConnected {
		deadline := time.Now().Add(s.cfg.DrainTimeout)
		for s.pending.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(s.cfg.DrainPoll)
		}
		if n := s.pending.Load(); n > 0 {
			s.log.Warn().Int64("pending", n).Msg("outbox not drained")
		}
	}
	if s.deps.Transport != nil {
		s.deps.Transport.Close()
	}
	s.closeMu.Do(func() { close(s.closed) })
	s.watches.Wait()
	if s.State() != types.SessionFailed {
		s.setState(types.SessionDisconnected, nil)
	}
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

func (s *Session) setState(st types.SessionState, err error) {
	prev := s.State()
	s.state.Store(st)
	if prev == st {
		return
	}
	lvl := zerolog.InfoLevel
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	s.log.WithLevel(lvl).Err(err).Str("from", string(prev)).Str("to", string(st)).Msg("session state")

	if s.deps.Status == nil {
		return
	}
	p := types.SessionStatus{State: st, TS: timex.NowMs()}
	if err != nil {
		p.Error = err.Error()
	}
	s.deps.Status.Publish(s.deps.Status.NewMessage(TopicStatus, p, true))
}

func (s *Session) publishResult(topic string, r types.PublishResult, err error) {
	if s.deps.Status == nil {
		return
	}
	p := types.PublishStatus{Topic: topic, Result: r, TS: timex.NowMs()}
	if err != nil {
		p.Error = err.Error()
	}
	s.deps.Status.Publish(s.deps.Status.NewMessage(TopicPublish, p, false))
}
