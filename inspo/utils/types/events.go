package types

// EventType tags every frame pushed over a live chat socket.
// Clients ignore types they do not recognise.
type EventType string

const (
	EventMessage EventType = "message"
	EventStatus  EventType = "status"
	EventReply   EventType = "reply"
	EventError   EventType = "error"
	EventPong    EventType = "pong"

	// inbound only
	EventPing EventType = "ping"
)

// Event is the outbound socket frame. Seq is set on message events only.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// InboundEvent is what a client may send over the socket.
type InboundEvent struct {
	Type    EventType `json:"type"`
	Role    string    `json:"role,omitempty"`
	Content string    `json:"content,omitempty"`
}

// Connection status values carried by status events.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

func StatusEvent(sessionID, state string) Event {
	return Event{Type: EventStatus, SessionID: sessionID, Data: map[string]string{"state": state}}
}

func ReplyEvent(sessionID string, state ReplyState, queued int) Event {
	return Event{Type: EventReply, SessionID: sessionID, Data: SessionState{SessionID: sessionID, State: state, Queued: queued}}
}

func ErrorEvent(sessionID, msg string) Event {
	return Event{Type: EventError, SessionID: sessionID, Data: map[string]string{"error": msg}}
}
