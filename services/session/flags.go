package session

import (
	"context"
	"strings"
	"sync"
)

// Flags are the session's binary state signals.
type Flags uint32

const (
	FlagConnected Flags = 1 << iota
	FlagFailed
	FlagShutdown
	FlagTerminated
)

func (f Flags) String() string {
	var parts []string
	for _, x := range []struct {
		f Flags
		n string
	}{{FlagConnected, "connected"}, {FlagFailed, "failed"}, {FlagShutdown, "shutdown"}, {FlagTerminated, "terminated"}} {
		if f&x.f != 0 {
			parts = append(parts, x.n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// flagGroup is a set of flags that can be waited on. Every Set that changes
// the value wakes all waiters.
type flagGroup struct {
	mu      sync.Mutex
	bits    Flags
	changed chan struct{}
}

func newFlagGroup() *flagGroup {
	return &flagGroup{changed: make(chan struct{})}
}

func (g *flagGroup) Set(f Flags) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bits&f == f {
		return
	}
	g.bits |= f
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *flagGroup) Clear(f Flags) {
	g.mu.Lock()
	g.bits &^= f
	g.mu.Unlock()
}

func (g *flagGroup) Get() Flags {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Wait blocks until any flag in mask is set and returns the matching subset.
func (g *flagGroup) Wait(ctx context.Context, mask Flags) (Flags, error) {
	for {
		g.mu.Lock()
		b, ch := g.bits, g.changed
		g.mu.Unlock()
		if b&mask != 0 {
			return b & mask, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
