package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// Why context.Context as the first parameter on every method?
//
//   - Every method here touches the network (Postgres in production).
//   - Switching tabs cancels the previous channel's context, and with it any
//     history query still in flight for that channel.

// Why ChannelKey instead of a channel_id column?
//
//   - Channels are never stored. A channel is the scoping tuple of its
//     messages (event, private pair, support thread, match), so every message
//     query filters on the columns the key flattens to.

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists a message. The store assigns ID and CreatedAt.
	Create(ctx context.Context, key models.ChannelKey, senderID uuid.UUID, senderDisplayName, body string) (*models.Message, error)

	// GetByID returns a single message. Returns nil, nil if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)

	// Delete removes a message. Returns false if it was already gone.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// ListRecent returns the `limit` most recent messages of a channel,
	// ordered oldest first. Returns empty slice (not nil).
	ListRecent(ctx context.Context, key models.ChannelKey, limit int) ([]models.Message, error)
}

// UserRepository resolves display metadata for message senders.
type UserRepository interface {
	// GetSenderMetadata returns nil, nil if the user does not exist.
	GetSenderMetadata(ctx context.Context, userID uuid.UUID) (*models.SenderMetadata, error)
}

// RoleRepository answers the authorization questions the messaging core
// asks of the event/team/match data it does not own. Read-only.
type RoleRepository interface {
	// IsEventRegistrant reports whether the user registered for the event.
	IsEventRegistrant(ctx context.Context, eventID, userID uuid.UUID) (bool, error)

	// EventAdmin returns the event's owning admin, or uuid.Nil if the event
	// does not exist.
	EventAdmin(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)

	// IsGlobalAdmin reports the user's platform-wide admin flag.
	IsGlobalAdmin(ctx context.Context, userID uuid.UUID) (bool, error)

	// TeamCaptainOf returns the team the user captains in the event.
	TeamCaptainOf(ctx context.Context, eventID, userID uuid.UUID) (uuid.UUID, bool, error)

	// Captains lists every team captain of the event.
	Captains(ctx context.Context, eventID uuid.UUID) ([]models.Captain, error)

	// MatchRoster joins match -> teams -> roster members. Returns nil, nil
	// if the match does not exist.
	MatchRoster(ctx context.Context, match models.MatchRef) (*models.MatchRoster, error)
}
