//go:build !linux

package i2cdev

import "doorbell-go/errcode"

// Bus is unavailable off Linux.
type Bus struct{}

func Open(n int) (*Bus, error) { return nil, errcode.Unsupported }

func (b *Bus) Tx(addr uint16, w, r []byte) error { return errcode.Unsupported }

func (b *Bus) Close() error { return nil }
