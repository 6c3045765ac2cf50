//go:build linux

package hal

import (
	"fmt"

	"github.com/rs/zerolog"
	gpiod "github.com/warthog618/go-gpiocdev"

	"doorbell-go/drivers/battery"
	"doorbell-go/drivers/i2cdev"
	"doorbell-go/types"
)

const consumer = "doorbell"

func openHardware(cfg types.Config, log zerolog.Logger) (_ *Board, err error) {
	b := &Board{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	chip, err := gpiod.NewChip(cfg.GPIO.Chip, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("gpio chip %q: %w", cfg.GPIO.Chip, err)
	}
	b.closers = append(b.closers, chip)

	opts := []gpiod.LineReqOption{gpiod.AsInput}
	if cfg.GPIO.ButtonPull {
		opts = append(opts, gpiod.WithPullUp)
	}
	if cfg.GPIO.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}
	btn, err := chip.RequestLine(cfg.GPIO.Button, opts...)
	if err != nil {
		return nil, fmt.Errorf("button line %d: %w", cfg.GPIO.Button, err)
	}
	b.closers = append(b.closers, btn)
	b.Button = &LineButton{Line: btn, Log: log}

	// Relay starts de-energised.
	off := 0
	if cfg.GPIO.RelayInvert {
		off = 1
	}
	rl, err := chip.RequestLine(cfg.GPIO.Relay, gpiod.AsOutput(off))
	if err != nil {
		return nil, fmt.Errorf("relay line %d: %w", cfg.GPIO.Relay, err)
	}
	b.closers = append(b.closers, rl)
	b.Relay = &LineRelay{Line: rl, Invert: cfg.GPIO.RelayInvert}

	b.Sampler, err = openSampler(cfg.Battery, b)
	if err != nil {
		return nil, err
	}

	b.Wake = &WakeDetector{Override: cfg.Wake.Cause, File: cfg.Wake.CauseFile, Button: b.Button, Log: log}
	b.Power = &CommandPower{Command: cfg.Sleep.Command, Log: log}
	return b, nil
}

func openSampler(cfg types.BatteryConfig, b *Board) (battery.Sampler, error) {
	switch cfg.Sampler {
	case "iio", "":
		return battery.NewIIOSampler(cfg.IIODevice, cfg.IIOChannel)
	case "ina260":
		bus, err := i2cdev.Open(cfg.I2CBus)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, bus)
		return battery.NewINA260Sampler(bus, cfg.I2CAddr)
	}
	return nil, fmt.Errorf("unknown battery sampler %q", cfg.Sampler)
}
