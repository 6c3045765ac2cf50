// Package monitor watches the status bus, logs what the device is doing and
// keeps Prometheus counters for it.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"doorbell-go/bus"
	"doorbell-go/types"
)

var (
	topicStatus = bus.T("doorbell", "#")
	topicConfig = bus.T("config", "#")
)

// Metrics are the doorbell's counters. Register them on a dedicated
// registry so tests and the CLI do not share global state.
type Metrics struct {
	WakeCycles   *prometheus.CounterVec
	Phases       *prometheus.CounterVec
	Presses      prometheus.Counter
	ChimePulses  prometheus.Counter
	Publishes    *prometheus.CounterVec
	SessionState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WakeCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doorbell_wake_cycles_total",
			Help: "Wake cycles by wake cause.",
		}, []string{"cause"}),
		Phases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doorbell_phase_transitions_total",
			Help: "Orchestrator phase entries.",
		}, []string{"phase"}),
		Presses: f.NewCounter(prometheus.CounterOpts{
			Name: "doorbell_button_presses_total",
			Help: "Trigger sequences run.",
		}),
		ChimePulses: f.NewCounter(prometheus.CounterOpts{
			Name: "doorbell_chime_pulses_total",
			Help: "Relay pulses emitted.",
		}),
		Publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "doorbell_publishes_total",
			Help: "Broker publishes by outcome.",
		}, []string{"result"}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "doorbell_session_state",
			Help: "1 for the current transport session state.",
		}, []string{"state"}),
	}
}

var sessionStates = []types.SessionState{
	types.SessionDisconnected, types.SessionConnecting, types.SessionConnected, types.SessionFailed,
}

type Service struct {
	m    *Metrics
	log  zerolog.Logger
	done chan struct{}
}

func New(m *Metrics, log zerolog.Logger) *Service {
	return &Service{m: m, log: log, done: make(chan struct{})}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	defer close(s.done)

	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)
	sub := conn.Subscribe(topicStatus)
	defer conn.Unsubscribe(sub)

	// loop until context is cancelled, respond to status and config messages
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("monitor stopping")
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			s.handle(msg)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			s.log.Debug().Stringer("topic", msg.Topic).Interface("value", msg.Payload).Msg("config")
		}
	}
}

// handle accounts for one status message.
func (s *Service) handle(msg *bus.Message) {
	switch p := msg.Payload.(type) {
	case types.PhaseStatus:
		s.m.Phases.WithLabelValues(string(p.Phase)).Inc()
		switch p.Phase {
		case types.PhaseTimerWake, types.PhaseSignalWake, types.PhaseOtherWake:
			s.m.WakeCycles.WithLabelValues(string(p.Cause)).Inc()
			s.log.Info().Str("cause", string(p.Cause)).Int64("window_ms", p.Window).Msg("wake")
		case types.PhaseSleeping:
			s.log.Info().Msg("going to sleep")
		}
	case types.ChimeStatus:
		s.m.Presses.Inc()
		s.m.ChimePulses.Add(float64(p.Pulses))
	case types.PublishStatus:
		s.m.Publishes.WithLabelValues(string(p.Result)).Inc()
		if p.Result != types.PublishDelivered {
			s.log.Debug().Str("topic", p.Topic).Str("result", string(p.Result)).Str("error", p.Error).Msg("publish")
		}
	case types.SessionStatus:
		for _, st := range sessionStates {
			v := 0.0
			if st == p.State {
				v = 1
			}
			s.m.SessionState.WithLabelValues(string(st)).Set(v)
		}
		lvl := zerolog.InfoLevel
		if p.Error != "" {
			lvl = zerolog.WarnLevel
		}
		s.log.WithLevel(lvl).Str("state", string(p.State)).Str("error", p.Error).Msg("session")
	default:
		s.log.Debug().Stringer("topic", msg.Topic).Msgf("unhandled payload %T", msg.Payload)
	}
}

// Start the monitor service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

// Done is closed once the service loop has exited.
func (s *Service) Done() <-chan struct{} { return s.done }

// Serve exposes g on addr at /metrics until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("metrics listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if lerr := <-errc; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
			return lerr
		}
		return err
	}
}
