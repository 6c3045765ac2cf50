//go:build linux

// Package i2cdev exposes a Linux /dev/i2c-N adapter as a drivers.I2C bus.
package i2cdev

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ioctlRDWR = 0x0707 // I2C_RDWR
	flagRead  = 0x0001 // I2C_M_RD
)

// i2c_msg from <linux/i2c.h>.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// i2c_rdwr_ioctl_data from <linux/i2c-dev.h>.
type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is one I2C adapter. Tx is safe for concurrent use.
type Bus struct {
	mu sync.Mutex
	fd int
}

// Open opens /dev/i2c-<n>.
func Open(n int) (*Bus, error) {
	fd, err := unix.Open(fmt.Sprintf("/dev/i2c-%d", n), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("i2cdev: open bus %d: %w", n, err)
	}
	return &Bus{fd: fd}, nil
}

// Tx writes w then reads len(r) bytes from addr in one combined transfer.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}
	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}

	b.mu.Lock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), ioctlRDWR, uintptr(unsafe.Pointer(&data)))
	b.mu.Unlock()
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("i2cdev: tx addr %#x: %w", addr, errno)
	}
	return nil
}

func (b *Bus) Close() error {
	return unix.Close(b.fd)
}
