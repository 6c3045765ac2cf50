package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"doorbell-go/errcode"
)

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Delivery tracks one queued publish. Done is closed when the transport
// has finished with the message; Error is then valid.
type Delivery interface {
	Done() <-chan struct{}
	Error() error
}

// Transport is a broker client owned by the session worker.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, retain bool) Delivery
	Connected() bool
	Close()
	String() string
}

// TransportConfig selects and parameterises a transport.
type TransportConfig struct {
	// "mqtt" or "log", or a name registered via RegisterTransport.
	Type string

	Broker         string
	ClientID       string
	User           string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration

	Log zerolog.Logger
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows other packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// NewTransport builds the transport named by cfg.Type.
func NewTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "mqtt", "":
		return newMQTTTransport(cfg)
	case "log":
		return newLogTransport(cfg), nil
	default:
		return nil, &errcode.E{C: errcode.UnknownTransport, Op: "session.transport", Msg: fmt.Sprintf("%q", cfg.Type)}
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// doneDelivery is an already-completed Delivery.
type doneDelivery struct{ err error }

var closedCh = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (d doneDelivery) Done() <-chan struct{} { return closedCh }
func (d doneDelivery) Error() error          { return d.err }
