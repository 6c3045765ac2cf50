package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"doorbell-go/errcode"
)

// Link is the network association underneath the broker session.
type Link interface {
	// Up blocks until the link is usable or ctx ends.
	Up(ctx context.Context) error
	Down() error
	HardwareAddr() net.HardwareAddr
	String() string
}

// NewLink builds a link by kind: "static" (always up) or "netif" (waits
// for an IPv4 address on iface).
func NewLink(kind, iface string) (Link, error) {
	switch kind {
	case "static", "":
		return StaticLink{Iface: iface}, nil
	case "netif":
		if iface == "" {
			return nil, &errcode.E{C: errcode.InvalidParams, Op: "session.link", Msg: "netif link needs an interface"}
		}
		return &NetifLink{Iface: iface, Poll: 100 * time.Millisecond}, nil
	}
	return nil, &errcode.E{C: errcode.InvalidParams, Op: "session.link", Msg: fmt.Sprintf("unknown link %q", kind)}
}

// StaticLink is for hosts whose network is managed elsewhere and always up.
type StaticLink struct{ Iface string }

func (StaticLink) Up(ctx context.Context) error { return ctx.Err() }
func (StaticLink) Down() error                  { return nil }
func (l StaticLink) HardwareAddr() net.HardwareAddr {
	return ifaceHardwareAddr(l.Iface)
}
func (StaticLink) String() string { return "static" }

// NetifLink waits for an interface managed by the OS (wpa_supplicant,
// NetworkManager) to come up with an IPv4 address.
type NetifLink struct {
	Iface string
	Poll  time.Duration

	// probe reports whether the interface is usable; nil uses the kernel.
	probe func(iface string) (bool, error)
}

func (l *NetifLink) Up(ctx context.Context) error {
	probe := l.probe
	if probe == nil {
		probe = ifaceReady
	}
	poll := l.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	var lastErr error
	for {
		ok, err := probe(l.Iface)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if !sleep(ctx, poll) {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return &errcode.E{C: errcode.LinkFailed, Op: "link.up", Msg: l.Iface, Err: lastErr}
		}
	}
}

// Down is a no-op: the OS owns the interface.
func (l *NetifLink) Down() error { return nil }

func (l *NetifLink) HardwareAddr() net.HardwareAddr { return ifaceHardwareAddr(l.Iface) }
func (l *NetifLink) String() string                 { return "netif:" + l.Iface }

func ifaceReady(name string) (bool, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return false, err
	}
	if ifi.Flags&net.FlagUp == 0 {
		return false, nil
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil && !ipn.IP.IsLoopback() {
			return true, nil
		}
	}
	return false, nil
}

func ifaceHardwareAddr(name string) net.HardwareAddr {
	if name == "" {
		return nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return ifi.HardwareAddr
}

// ClientID derives "<prefix>_<mac hex>" from the link's hardware address,
// falling back to the hostname.
func ClientID(prefix string, l Link) string {
	if prefix == "" {
		prefix = "doorbell"
	}
	if l != nil {
		if mac := l.HardwareAddr(); len(mac) > 0 {
			return prefix + "_" + hex.EncodeToString(mac)
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return prefix + "_" + h
	}
	return prefix
}
