package battery

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultIIODevice is the usual sysfs node of the first ADC.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

// IIOSampler reads one channel of a Linux industrial-I/O ADC through sysfs.
// Millivolts are (raw + offset) * scale, as defined by the IIO ABI.
type IIOSampler struct {
	dir     string
	channel int

	scale  float64
	offset float64
}

// NewIIOSampler resolves the channel's scale and offset once. dir defaults
// to DefaultIIODevice.
func NewIIOSampler(dir string, channel int) (*IIOSampler, error) {
	if dir == "" {
		dir = DefaultIIODevice
	}
	s := &IIOSampler{dir: dir, channel: channel, scale: 1}

	raw := s.attr("raw")
	if _, err := os.Stat(raw); err != nil {
		return nil, fmt.Errorf("iio: channel %d: %w", channel, err)
	}

	// Per-channel attributes win over the shared ones.
	for _, name := range []string{s.attr("scale"), filepath.Join(dir, "in_voltage_scale")} {
		if v, err := readFloat(name); err == nil {
			s.scale = v
			break
		}
	}
	for _, name := range []string{s.attr("offset"), filepath.Join(dir, "in_voltage_offset")} {
		if v, err := readFloat(name); err == nil {
			s.offset = v
			break
		}
	}
	return s, nil
}

func (s *IIOSampler) attr(kind string) string {
	return filepath.Join(s.dir, fmt.Sprintf("in_voltage%d_%s", s.channel, kind))
}

func (s *IIOSampler) SampleMilliVolts() (int32, error) {
	raw, err := readFloat(s.attr("raw"))
	if err != nil {
		return 0, err
	}
	return int32(math.Round((raw + s.offset) * s.scale)), nil
}

func readFloat(name string) (float64, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}
