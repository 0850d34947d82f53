package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. Subscribers filter by namespace prefix, e.g.
// "message." receives every message event.
const (
	MessageQueued     = "message.queued"
	MessageUpserted   = "message.upserted"
	MessageSendAck    = "message.send_ack"
	MessageSendFailed = "message.send_failed"

	ChatUpserted = "chat.upserted"
	ChatRead     = "chat.read"

	ContactUpserted = "contact.upserted"

	StatusPosted  = "status.posted"
	StatusViewed  = "status.viewed"
	StatusDeleted = "status.deleted"

	TypingStarted = "presence.typing_started"
	TypingStopped = "presence.typing_stopped"

	IdentityChanged = "identity.changed"
)
