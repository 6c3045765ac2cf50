package types

// ------------------------
// Notification channel
// ------------------------

// TriggerEvent is the message kind handed from the control goroutine to
// the session worker.
type TriggerEvent uint8

const (
	TriggerShutdown TriggerEvent = iota
	TriggerPress
	TriggerRelease
)

func (e TriggerEvent) String() string {
	switch e {
	case TriggerShutdown:
		return "shutdown"
	case TriggerPress:
		return "press"
	case TriggerRelease:
		return "release"
	}
	return "unknown"
}

// Event is one element of the notification channel. Battery is only set
// on TriggerShutdown: the final reading is taken on the control goroutine
// and travels with the shutdown request.
type Event struct {
	Trigger TriggerEvent
	Battery BatteryReading
}

// ------------------------
// Transport session
// ------------------------

type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionFailed       SessionState = "failed"
)
