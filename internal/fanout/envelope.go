package fanout

// Envelope is the typed unit of delivery to subscribers. The websocket
// layer writes envelopes to clients verbatim.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Envelope types.
const (
	TypeMessage      = "message"
	TypeEvent        = "event"
	TypeGroupAdded   = "group_added"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
)
