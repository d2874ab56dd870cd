package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxBodyRunes is the upper bound on a message body, counted in Unicode
	// code points after trimming.
	MaxBodyRunes = 500

	// HistoryLimit is the size of the history window. Older messages are
	// never fetched.
	HistoryLimit = 100
)

// Message is a single chat message in a channel.
//
// Why a SenderDisplayName snapshot when we can look the sender up?
//   - History must stay legible after the sender renames or leaves.
//   - Live rendering still prefers freshly resolved SenderMetadata and only
//     falls back to this snapshot when the lookup is missing or failed.
//
// Why uuid.UUID for ID (not bigserial like a single-node table)?
//   - Ids must be globally unique across every channel kind, and the realtime
//     layer uses the id alone to delete.
//
// CreatedAt is assigned by the store at insert time and is the only
// ordering key.
type Message struct {
	ID                uuid.UUID  `json:"id"`
	Key               ChannelKey `json:"-"`
	SenderID          uuid.UUID  `json:"sender_id"`
	SenderDisplayName string     `json:"sender_display_name"`
	Body              string     `json:"body"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Before reports whether m sorts before other: created_at ascending, ties
// broken by id so the order is total.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return strings.Compare(m.ID.String(), other.ID.String()) < 0
}

// SenderMetadata is the display information for a message author.
type SenderMetadata struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarRef   string    `json:"avatar_ref"`
	IsAdmin     bool      `json:"is_admin"`
}

// Captain is the designated leader of a team within an event.
type Captain struct {
	UserID      uuid.UUID `json:"user_id"`
	TeamID      uuid.UUID `json:"team_id"`
	TeamName    string    `json:"team_name"`
	DisplayName string    `json:"display_name"`
}

// Capability is what the caller may do on one channel. It is computed once
// when the channel opens and held for the session's lifetime.
//
// The capability is advisory: the store re-verifies authorization on every
// write, so a stale Capability can never authorize an insert.
type Capability struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`

	canDelete func(Message) bool
}

// NewCapability builds a Capability. A nil canDelete denies every delete.
func NewCapability(canRead, canWrite bool, canDelete func(Message) bool) Capability {
	return Capability{CanRead: canRead, CanWrite: canWrite, canDelete: canDelete}
}

// Denied is the fail-closed capability.
func Denied() Capability {
	return Capability{}
}

// CanDelete reports whether the caller may delete m.
func (c Capability) CanDelete(m Message) bool {
	if c.canDelete == nil {
		return false
	}
	return c.canDelete(m)
}

// Locked reports whether the composer must be rendered as locked.
func (c Capability) Locked() bool {
	return !c.CanWrite
}

// MatchRoster is the result of the match -> team -> roster join.
type MatchRoster struct {
	Match   MatchRef    `json:"match"`
	EventID uuid.UUID   `json:"event_id"`
	TeamIDs []uuid.UUID `json:"team_ids"`
	Members []uuid.UUID `json:"members"`
}

// Resolvable reports whether both rosters of the match could be found.
func (r *MatchRoster) Resolvable() bool {
	return r != nil && len(r.TeamIDs) == 2 && len(r.Members) > 0
}

// HasMember reports whether userID is rostered on either team.
func (r *MatchRoster) HasMember(userID uuid.UUID) bool {
	if r == nil {
		return false
	}
	for _, id := range r.Members {
		if id == userID {
			return true
		}
	}
	return false
}
