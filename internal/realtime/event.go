package realtime

import (
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// EventType names what happened on a channel.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageDeleted EventType = "message.deleted"
)

// Event is the broker payload. Inserts carry the full row; deletes carry
// only the id.
type Event struct {
	Type      EventType       `json:"type"`
	Message   *models.Message `json:"message,omitempty"`
	MessageID uuid.UUID       `json:"message_id"`
}

func Created(m models.Message) Event {
	return Event{Type: EventMessageCreated, Message: &m, MessageID: m.ID}
}

func Deleted(id uuid.UUID) Event {
	return Event{Type: EventMessageDeleted, MessageID: id}
}
