package battery

import (
	"errors"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ina260"
)

// INA260Sampler reads bus voltage from a TI INA260 power monitor wired
// directly across the battery. Use R1 = 0 when no divider is fitted.
type INA260Sampler struct {
	bus *errBus
	dev ina260.Device
}

var errINA260Missing = errors.New("ina260: device not found")

// NewINA260Sampler probes the device at addr (0 selects the default) and
// configures continuous voltage conversion with 16x hardware averaging.
func NewINA260Sampler(bus drivers.I2C, addr uint16) (*INA260Sampler, error) {
	eb := &errBus{I2C: bus}
	dev := ina260.New(eb)
	if addr != 0 {
		dev.Address = addr
	}
	if !dev.Connected() {
		if err := eb.take(); err != nil {
			return nil, err
		}
		return nil, errINA260Missing
	}
	dev.Configure(ina260.Config{
		AverageMode:     ina260.AVGMODE_16,
		VoltConvTime:    ina260.CONVTIME_1100USEC,
		CurrentConvTime: ina260.CONVTIME_140USEC,
		Mode:            ina260.MODE_CONTINUOUS | ina260.MODE_VOLTAGE,
	})
	if err := eb.take(); err != nil {
		return nil, err
	}
	return &INA260Sampler{bus: eb, dev: dev}, nil
}

func (s *INA260Sampler) SampleMilliVolts() (int32, error) {
	uV := s.dev.Voltage()
	if err := s.bus.take(); err != nil {
		return 0, err
	}
	return uV / 1000, nil
}

// errBus remembers the first transfer error; the driver API drops them.
type errBus struct {
	drivers.I2C
	err error
}

func (b *errBus) Tx(addr uint16, w, r []byte) error {
	err := b.I2C.Tx(addr, w, r)
	if err != nil && b.err == nil {
		b.err = err
	}
	return err
}

func (b *errBus) take() error {
	err := b.err
	b.err = nil
	return err
}
