package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorbell-go/errcode"
	"doorbell-go/types"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the transport uses.
type fakeClient struct {
	mqtt.Client
	opts       *mqtt.ClientOptions
	connectErr error
	hang       bool

	mu          sync.Mutex
	connected   bool
	pubs        []published
	disconnects int
	connects    int
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.hang {
		return newToken(nil, false)
	}
	c.mu.Lock()
	c.connects++
	c.connected = c.connectErr == nil
	c.mu.Unlock()
	return newToken(c.connectErr, true)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.pubs = append(c.pubs, published{topic, qos, retained, payload.([]byte)})
	c.mu.Unlock()
	return newToken(nil, true)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func withFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	old := newMQTTClient
	newMQTTClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fc.opts = o
		return fc
	}
	t.Cleanup(func() { newMQTTClient = old })
}

func mqttConfig() TransportConfig {
	return TransportConfig{
		Type:     "mqtt",
		Broker:   "mqtt://broker.lan:1883",
		ClientID: "doorbell_a0b1c2d3e4f5",
		User:     "bell",
		Password: "pw",
		QoS:      1,
		Log:      zerolog.Nop(),
	}
}

func TestMQTTTransport_OptionsAndPublish(t *testing.T) {
	fc := &fakeClient{}
	withFakeClient(t, fc)

	tr, err := NewTransport(mqttConfig())
	require.NoError(t, err)
	assert.Equal(t, "mqtt", tr.String())

	require.Len(t, fc.opts.Servers, 1)
	assert.Equal(t, "broker.lan:1883", fc.opts.Servers[0].Host)
	assert.Equal(t, "doorbell_a0b1c2d3e4f5", fc.opts.ClientID)
	assert.Equal(t, "bell", fc.opts.Username)
	assert.Equal(t, "pw", fc.opts.Password)
	assert.False(t, fc.opts.AutoReconnect)
	assert.True(t, fc.opts.CleanSession)

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Connected())

	d := tr.Publish("doorbell/button", []byte("on"), true)
	<-d.Done()
	require.NoError(t, d.Error())
	assert.Equal(t, []published{{"doorbell/button", 1, true, []byte("on")}}, fc.pubs)

	tr.Close()
	assert.Equal(t, 1, fc.disconnects)
	assert.False(t, tr.Connected())
	assert.NotPanics(t, tr.Close)
}

func TestMQTTTransport_ConnectErrors(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("not authorised")}
	withFakeClient(t, fc)
	tr, err := NewTransport(mqttConfig())
	require.NoError(t, err)
	require.EqualError(t, tr.Connect(context.Background()), "not authorised")

	hang := &fakeClient{hang: true}
	withFakeClient(t, hang)
	tr, err = NewTransport(mqttConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tr.Connect(ctx), context.DeadlineExceeded)
}

func TestMQTTTransport_CloseStopsPendingConnect(t *testing.T) {
	fc := &fakeClient{hang: true}
	withFakeClient(t, fc)
	tr, err := NewTransport(mqttConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, tr.Connect(ctx))
	assert.False(t, tr.Connected())

	tr.Close()
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTTransport_SessionRetriesBroker(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("refused")}
	withFakeClient(t, fc)
	tr, err := NewTransport(mqttConfig())
	require.NoError(t, err)

	s := New(testConfig(), Deps{Events: nil, Transport: tr, Log: zerolog.Nop()})
	assert.Equal(t, types.SessionFailed, s.Connect(context.Background()))
	assert.Equal(t, 3, fc.connects)
}

func TestNewTransport_Errors(t *testing.T) {
	cfg := mqttConfig()
	cfg.Broker = ""
	_, err := NewTransport(cfg)
	assert.Equal(t, errcode.MissingCredentials, errcode.Of(err))

	cfg = mqttConfig()
	cfg.QoS = 3
	_, err = NewTransport(cfg)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	_, err = NewTransport(TransportConfig{Type: "carrier-pigeon"})
	assert.Equal(t, errcode.UnknownTransport, errcode.Of(err))

	RegisterTransport("test-null", func(TransportConfig) (Transport, error) {
		return newLogTransport(TransportConfig{Log: zerolog.Nop()}), nil
	})
	tr, err := NewTransport(TransportConfig{Type: "test-null"})
	require.NoError(t, err)
	assert.Equal(t, "log", tr.String())
}

// -----------------------------------------------------------------------------
// links
// -----------------------------------------------------------------------------

func TestNetifLink_WaitsForAddress(t *testing.T) {
	calls := 0
	l := &NetifLink{Iface: "wlan0", Poll: time.Millisecond, probe: func(string) (bool, error) {
		calls++
		return calls >= 3, nil
	}}
	require.NoError(t, l.Up(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, "netif:wlan0", l.String())
}

func TestNetifLink_TimesOut(t *testing.T) {
	l := &NetifLink{Iface: "wlan0", Poll: time.Millisecond, probe: func(string) (bool, error) {
		return false, errors.New("no such interface")
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Up(ctx)
	assert.Equal(t, errcode.LinkFailed, errcode.Of(err))
	assert.ErrorContains(t, err, "no such interface")
}

func TestNewLink(t *testing.T) {
	l, err := NewLink("", "")
	require.NoError(t, err)
	assert.Equal(t, "static", l.String())

	_, err = NewLink("netif", "")
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
	_, err = NewLink("ppp", "ppp0")
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
}

type macLink struct{ StaticLink }

func (macLink) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0xa0, 0xb1, 0xc2, 0xd3, 0xe4, 0xf5}
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "doorbell_a0b1c2d3e4f5", ClientID("", macLink{}))
	assert.Equal(t, "bell_a0b1c2d3e4f5", ClientID("bell", macLink{}))
	assert.Regexp(t, `^doorbell(_.+)?$`, ClientID("doorbell", StaticLink{}))
}
