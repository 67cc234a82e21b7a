package events

// Event enumerates high-level topics inside the signal core.
type Event string

const (
	EventSignalAccepted Event = "signal.accepted"
	EventSignalGated    Event = "signal.gated"
	EventSignalExecuted Event = "signal.executed"
	EventSignalRejected Event = "signal.rejected"
	EventSignalFailed   Event = "signal.failed"
	EventSignalExpired  Event = "signal.expired"
	EventConnectivity   Event = "connectivity.changed"
	EventHealthChanged  Event = "health.changed"
	EventAlert          Event = "alert"
)
