package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"doorbell-go/bus"
	"doorbell-go/drivers/battery"
	"doorbell-go/errcode"
	"doorbell-go/services/config"
	"doorbell-go/services/hal"
	"doorbell-go/services/kvstore"
	"doorbell-go/services/monitor"
	"doorbell-go/services/power"
	"doorbell-go/services/session"
	"doorbell-go/types"
	"doorbell-go/x/logx"
	"doorbell-go/x/ring"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one wake cycle: chime, report, sleep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCycle(ctx, cfg, v, log)
		},
	}
}

func runCycle(ctx context.Context, cfg types.Config, v *viper.Viper, log zerolog.Logger) error {
	log.Info().Str("board", cfg.Board).Msg("boot")

	// Status bus and its observers.
	b := bus.NewBus(32)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	mon := monitor.New(monitor.NewMetrics(reg), logx.WithComponent("monitor"))
	mctx, mcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		mcancel()
		<-mon.Done()
	}()
	if err := mon.Start(mctx, b.NewConnection("monitor")); err != nil {
		log.Warn().Err(err).Msg("monitor not started")
	}
	if err := config.NewConfigService(v).Start(ctx, b.NewConnection("config")); err != nil {
		log.Warn().Err(err).Msg("config not published")
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := monitor.Serve(mctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Warn().Err(err).Msg("metrics server")
			}
		}()
	}

	// Peripherals. Failure here is fatal.
	board, err := hal.Open(cfg, nil, logx.WithComponent("hal"))
	if err != nil {
		return err
	}
	defer board.Close()
	batt := battery.New(board.Sampler, battery.Config{
		Samples: cfg.Battery.Samples,
		R1:      cfg.Battery.R1,
		R2:      cfg.Battery.R2,
	})

	// Network worker.
	wlog := logx.WithComponent("session")
	link, err := session.NewLink(cfg.Network.Link, cfg.Network.Interface)
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg, link, wlog)
	if err != nil {
		// Connectivity problems never stop the chime.
		wlog.Error().Err(err).Msg("no transport; running offline")
	}
	q := ring.New[types.Event](cfg.Network.QueueLen)
	sess := session.New(session.Config{
		StartupDelay:   cfg.Network.StartupDelay,
		Retries:        cfg.Network.Retries,
		RetryBackoff:   cfg.Network.RetryBackoff,
		AttemptTimeout: cfg.Network.AttemptTimeout,
		ReceivePoll:    cfg.Network.ReceivePoll,
		DrainTimeout:   cfg.Network.DrainTimeout,
		DrainPoll:      cfg.Network.DrainPoll,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		Retain:         cfg.MQTT.Retain,
	}, session.Deps{
		Events:    q,
		Link:      link,
		Transport: tr,
		Status:    b.NewConnection("session"),
		Log:       wlog,
	})
	sess.Start(ctx)

	o := power.New(power.ConfigFrom(cfg), power.Deps{
		Button:  board.Button,
		Relay:   board.Relay,
		Wake:    board.Wake,
		Power:   board.Power,
		Battery: batt,
		Events:  q,
		Session: sess,
		Status:  b.NewConnection("power"),
		Log:     logx.WithComponent("power"),
	})
	err = o.Run(ctx)
	c := o.Cycle()
	log.Info().
		Str("cause", string(c.Cause)).
		Int("presses", c.Triggers).
		Int("pulses", c.Pulses).
		Bool("acked", c.Acked).
		Uint64("dropped", sess.Dropped()).
		Msg("cycle done")
	return err
}

// newTransport builds the broker transport, reading credentials from the
// store when the transport needs them.
func newTransport(cfg types.Config, link session.Link, log zerolog.Logger) (session.Transport, error) {
	tc := session.TransportConfig{
		Type:           cfg.MQTT.Transport,
		ClientID:       session.ClientID(cfg.MQTT.ClientIDPrefix, link),
		QoS:            byte(cfg.MQTT.QoS),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		Log:            log,
	}
	if tc.Type == "mqtt" || tc.Type == "" {
		creds, err := loadCredentials(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		tc.Broker, tc.User, tc.Password = creds.Address, creds.User, creds.Password
	}
	return session.NewTransport(tc)
}

func loadCredentials(path string) (kvstore.MQTTCredentials, error) {
	if path == "" {
		return kvstore.MQTTCredentials{}, &errcode.E{C: errcode.MissingCredentials, Op: "doorbell.credentials", Msg: "store.path not set"}
	}
	st, err := kvstore.Open(kvstore.Options{Path: path, ReadOnly: true})
	if err != nil {
		return kvstore.MQTTCredentials{}, &errcode.E{C: errcode.MissingCredentials, Op: "doorbell.credentials", Err: err}
	}
	defer st.Close()
	return st.LoadMQTT()
}
