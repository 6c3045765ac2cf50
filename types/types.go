package types

// ---- Status payloads (status bus, doorbell/...) ----

// PhaseStatus is retained on doorbell/phase.
type PhaseStatus struct {
	Phase  Phase     `json:"phase"`
	Cause  WakeCause `json:"cause"`
	Window int64     `json:"window_ms"`
	TS     int64     `json:"ts_ms"`
}

// SessionStatus is retained on doorbell/session.
type SessionStatus struct {
	State SessionState `json:"state"`
	Error string       `json:"error,omitempty"`
	TS    int64        `json:"ts_ms"`
}

// ChimeStatus is published on doorbell/chime after each trigger sequence.
type ChimeStatus struct {
	Pulses int   `json:"pulses"`
	HeldMs int64 `json:"held_ms"`
	TS     int64 `json:"ts_ms"`
}

// PublishResult classifies the fate of one outbound broker message.
type PublishResult string

const (
	PublishDelivered PublishResult = "delivered"
	PublishFailed    PublishResult = "failed"
	PublishDropped   PublishResult = "dropped"
	PublishAbandoned PublishResult = "abandoned"
)

// PublishStatus is published on doorbell/publish for every outbound message.
type PublishStatus struct {
	Topic  string        `json:"topic"`
	Result PublishResult `json:"result"`
	Error  string        `json:"error,omitempty"`
	TS     int64         `json:"ts_ms"`
}
