package session

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"doorbell-go/errcode"
)

// newMQTTClient is swapped in tests.
var newMQTTClient = mqtt.NewClient

type mqttTransport struct {
	client mqtt.Client
	qos    byte
	log    zerolog.Logger
}

func newMQTTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Broker == "" {
		return nil, &errcode.E{C: errcode.MissingCredentials, Op: "session.mqtt", Msg: "no broker address"}
	}
	if cfg.QoS > 2 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "session.mqtt", Msg: "qos must be 0..2"}
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := &mqttTransport{qos: cfg.QoS, log: cfg.Log}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(timeout).
		SetWriteTimeout(timeout).
		SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		t.log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("broker connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.log.Warn().Err(err).Msg("broker connection lost")
	})

	t.client = newMQTTClient(opts)
	return t, nil
}

func (t *mqttTransport) Connect(ctx context.Context) error {
	tok := t.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *mqttTransport) Publish(topic string, payload []byte, retain bool) Delivery {
	return t.client.Publish(topic, t.qos, retain, payload)
}

func (t *mqttTransport) Connected() bool { return t.client.IsConnectionOpen() }

// Close disconnects without quiescing; the session drains first. It also
// stops a client still retrying a timed-out connect.
func (t *mqttTransport) Close() {
	t.client.Disconnect(0)
}

func (t *mqttTransport) String() string { return "mqtt" }
