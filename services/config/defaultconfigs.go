package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (--board)
// Val: TOML defaults for that board. Durations are Go duration strings.
// -----------------------------------------------------------------------------

const cfgRPi = `
[log]
level = "info"
pretty = false

[awake]
long = "15s"
short = "1s"
debug = "60s"
poll_tick = "10ms"

[chime]
min_pulses = 3
high = "300ms"
low = "300ms"

[sleep]
enabled = true
duration = "60m"
command = ["rtcwake", "-m", "off", "-s", "{seconds}"]

[wake]
cause = ""
cause_file = "/run/doorbell/wake-cause"

[network]
startup_delay = "1s"
retries = 2
retry_backoff = "500ms"
attempt_timeout = "10s"
receive_poll = "1s"
queue_len = 8
send_timeout = "10ms"
ack_timeout = "500ms"
drain_timeout = "500ms"
drain_poll = "20ms"
link = "netif"
interface = "wlan0"

[mqtt]
transport = "mqtt"
topic_prefix = "doorbell"
qos = 1
retain = true
connect_timeout = "5s"
client_id_prefix = "doorbell"

[battery]
sampler = "iio"
samples = 16
r1 = 202500
r2 = 199000
iio_device = "/sys/bus/iio/devices/iio:device0"
iio_channel = 0
i2c_bus = 1
i2c_addr = 0x40

[gpio]
chip = "gpiochip0"
button = 17
relay = 27
button_pull_up = true
button_active_low = true
relay_invert = false

[store]
path = "/var/lib/doorbell/kv"

[metrics]
addr = ""
`

const cfgSim = `
[log]
level = "debug"
pretty = true

[awake]
long = "15s"
short = "1s"
debug = "60s"
poll_tick = "10ms"

[chime]
min_pulses = 3
high = "300ms"
low = "300ms"

[sleep]
enabled = true
duration = "60m"

[wake]
cause = ""

[network]
startup_delay = "100ms"
retries = 2
retry_backoff = "100ms"
attempt_timeout = "2s"
receive_poll = "1s"
queue_len = 8
send_timeout = "10ms"
ack_timeout = "500ms"
drain_timeout = "500ms"
drain_poll = "20ms"
link = "static"

[mqtt]
transport = "log"
topic_prefix = "doorbell"
qos = 1
retain = true
connect_timeout = "2s"
client_id_prefix = "doorbell"

[battery]
sampler = "sim"
samples = 16
r1 = 202500
r2 = 199000

[sim]
presses = ["0s+1200ms"]
millivolts = 4020

[store]
path = ""

[metrics]
addr = ""
`

var embeddedConfigs = map[string][]byte{
	"rpi": []byte(cfgRPi),
	"sim": []byte(cfgSim),
}
