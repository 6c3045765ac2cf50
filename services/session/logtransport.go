package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Published is one message recorded by the log transport.
type Published struct {
	Topic   string
	Payload string
	Retain  bool
}

// LogTransport accepts every publish and writes it to the log. It backs the
// sim board and bench runs without a broker.
type LogTransport struct {
	log       zerolog.Logger
	connected atomic.Bool

	mu   sync.Mutex
	sent []Published
}

func newLogTransport(cfg TransportConfig) *LogTransport {
	return &LogTransport{log: cfg.Log}
}

func (t *LogTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.connected.Store(true)
	return nil
}

func (t *LogTransport) Publish(topic string, payload []byte, retain bool) Delivery {
	t.mu.Lock()
	t.sent = append(t.sent, Published{Topic: topic, Payload: string(payload), Retain: retain})
	t.mu.Unlock()
	t.log.Info().Str("topic", topic).Bytes("payload", payload).Bool("retain", retain).Msg("publish")
	return doneDelivery{}
}

func (t *LogTransport) Connected() bool { return t.connected.Load() }
func (t *LogTransport) Close()          { t.connected.Store(false) }
func (t *LogTransport) String() string  { return "log" }

// Sent returns a copy of everything published so far.
func (t *LogTransport) Sent() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Published(nil), t.sent...)
}
