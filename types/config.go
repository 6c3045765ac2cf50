package types

import "time"

// Config is the effective device configuration, decoded from the embedded
// board defaults plus file and environment overrides.
type Config struct {
	Board   string        `mapstructure:"board"`
	Log     LogConfig     `mapstructure:"log"`
	Awake   AwakeConfig   `mapstructure:"awake"`
	Chime   ChimeConfig   `mapstructure:"chime"`
	Sleep   SleepConfig   `mapstructure:"sleep"`
	Wake    WakeConfig    `mapstructure:"wake"`
	Network NetworkConfig `mapstructure:"network"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Battery BatteryConfig `mapstructure:"battery"`
	GPIO    GPIOConfig    `mapstructure:"gpio"`
	Sim     SimConfig     `mapstructure:"sim"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AwakeConfig struct {
	Long     time.Duration `mapstructure:"long"`
	Short    time.Duration `mapstructure:"short"`
	Debug    time.Duration `mapstructure:"debug"` // used when sleep is disabled
	PollTick time.Duration `mapstructure:"poll_tick"`
}

type ChimeConfig struct {
	MinPulses int           `mapstructure:"min_pulses"`
	High      time.Duration `mapstructure:"high"`
	Low       time.Duration `mapstructure:"low"`
}

type SleepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Duration time.Duration `mapstructure:"duration"`
	// Command is run to enter deep sleep. "{seconds}" is replaced with the
	// timer wake-up delay.
	Command []string `mapstructure:"command"`
}

type WakeConfig struct {
	// Cause overrides detection ("timer", "signal", "other").
	Cause string `mapstructure:"cause"`
	// CauseFile is read (and removed) at boot when set.
	CauseFile string `mapstructure:"cause_file"`
}

type NetworkConfig struct {
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	Retries        int           `mapstructure:"retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	ReceivePoll    time.Duration `mapstructure:"receive_poll"`
	QueueLen       int           `mapstructure:"queue_len"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	DrainPoll      time.Duration `mapstructure:"drain_poll"`
	Link           string        `mapstructure:"link"` // "static" | "netif"
	Interface      string        `mapstructure:"interface"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type MQTTConfig struct {
	Transport      string        `mapstructure:"transport"` // "mqtt" | "log"
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            int           `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ClientIDPrefix string        `mapstructure:"client_id_prefix"`
}

type BatteryConfig struct {
	Sampler string `mapstructure:"sampler"` // "iio" | "ina260" | "sim"
	Samples int    `mapstructure:"samples"`
	R1      uint32 `mapstructure:"r1"`
	R2      uint32 `mapstructure:"r2"`

	IIODevice  string `mapstructure:"iio_device"`
	IIOChannel int    `mapstructure:"iio_channel"`

	I2CBus  int    `mapstructure:"i2c_bus"`
	I2CAddr uint16 `mapstructure:"i2c_addr"`
}

type GPIOConfig struct {
	Chip        string `mapstructure:"chip"`
	Button      int    `mapstructure:"button"`
	Relay       int    `mapstructure:"relay"`
	ButtonPull  bool   `mapstructure:"button_pull_up"`
	ActiveLow   bool   `mapstructure:"button_active_low"`
	RelayInvert bool   `mapstructure:"relay_invert"`
}

// SimConfig drives the in-process board.
type SimConfig struct {
	// Presses lists button presses as "<start>+<held>" offsets from boot,
	// e.g. "0s+1200ms".
	Presses    []string `mapstructure:"presses"`
	MilliVolts int32    `mapstructure:"millivolts"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}
