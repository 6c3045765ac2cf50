// Package hal binds the doorbell's peripherals: the button input, the chime
// relay, the battery ADC, the wake-cause source and the sleep primitive.
package hal

import (
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"doorbell-go/drivers/battery"
	"doorbell-go/errcode"
	"doorbell-go/types"
	"doorbell-go/x/timex"
)

// Button reports the logical (debounced by polling) state of the doorbell
// input.
type Button interface {
	Asserted() bool
}

// Relay drives the chime.
type Relay interface {
	Set(on bool) error
}

// WakeSource reports why the device booted.
type WakeSource interface {
	WakeCause() types.WakeCause
}

// Power is the sleep/restart primitive. Sleep is expected not to return;
// when it does the caller restarts.
type Power interface {
	Sleep(d time.Duration) error
	Restart() error
}

// Board is the set of peripherals for one boot. Touch it from the control
// goroutine only.
type Board struct {
	Button  Button
	Relay   Relay
	Wake    WakeSource
	Power   Power
	Sampler battery.Sampler

	closers []io.Closer
}

// Close releases the lines and buses held by the board.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Open initialises the board selected by cfg.Board. Any failure is a
// peripheral init failure.
func Open(cfg types.Config, clk timex.Clock, log zerolog.Logger) (*Board, error) {
	var (
		b   *Board
		err error
	)
	switch cfg.Board {
	case "sim":
		b, err = OpenSim(cfg, clk)
	default:
		b, err = openHardware(cfg, log)
	}
	if err != nil {
		return nil, &errcode.E{C: errcode.PeripheralInit, Op: "hal.open", Msg: cfg.Board, Err: err}
	}
	return b, nil
}

// -----------------------------------------------------------------------------
// GPIO line adaptors
// -----------------------------------------------------------------------------

// Line is the minimal GPIO line contract (satisfied by gpiocdev lines and
// SimPin).
type Line interface {
	Value() (int, error)
	SetValue(v int) error
}

// LineButton reads a button line, optionally inverting the level.
type LineButton struct {
	Line   Line
	Invert bool
	Log    zerolog.Logger
}

func (b *LineButton) Asserted() bool {
	v, err := b.Line.Value()
	if err != nil {
		b.Log.Warn().Err(err).Msg("button read")
		return false
	}
	return logicalPressed(v != 0, b.Invert)
}

func logicalPressed(level, invert bool) bool {
	if invert {
		return !level
	}
	return level
}

// LineRelay drives a relay line, optionally active-low.
type LineRelay struct {
	Line   Line
	Invert bool
}

func (r *LineRelay) Set(on bool) error {
	v := 0
	if on != r.Invert {
		v = 1
	}
	return r.Line.SetValue(v)
}
