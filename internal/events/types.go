// Package events defines the event types published on the process-wide
// Bus by the fabric roles and the gateway.
package events

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	// Server role
	EventConnectionAccepted   EventType = "connection_accepted"
	EventConnectionRegistered EventType = "connection_registered"
	EventConnectionClosed     EventType = "connection_closed"

	// Client role
	EventLinkUp   EventType = "link_up"
	EventLinkDown EventType = "link_down"

	// Gateway sessions
	EventSessionAuthorized EventType = "session_authorized"
	EventSessionBound      EventType = "session_bound"
	EventSessionUnbound    EventType = "session_unbound"
	EventSessionExpired    EventType = "session_expired"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload describes a peer of a Server role.
type ConnectionPayload struct {
	Server string `json:"server"`
	ID     uint8  `json:"id"`
	Flavor string `json:"flavor"`
	Remote string `json:"remote"`
}

// LinkPayload describes the state of a Client role link.
type LinkPayload struct {
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Flavor   string `json:"flavor"`
	Assigned *uint8 `json:"assigned,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SessionPayload describes a gateway session transition.
type SessionPayload struct {
	Token   string `json:"token"`
	User    string `json:"user"`
	Display string `json:"display"`
	ConnID  *uint8 `json:"conn_id,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
