package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ChannelKind determines which scoping fields a channel has and which
// authorization rule applies to it.
type ChannelKind string

const (
	KindEvent   ChannelKind = "event"
	KindPrivate ChannelKind = "private"
	KindSupport ChannelKind = "support"
	KindMatch   ChannelKind = "match"
)

// Kinds lists every channel kind in tab order.
var Kinds = []ChannelKind{KindEvent, KindPrivate, KindSupport, KindMatch}

// ParseKind validates a kind coming from a request.
func ParseKind(s string) (ChannelKind, error) {
	switch ChannelKind(s) {
	case KindEvent, KindPrivate, KindSupport, KindMatch:
		return ChannelKind(s), nil
	}
	return "", fmt.Errorf("unknown channel kind %q", s)
}

// MatchKind tells regular matches apart from tournament matches. Their ids
// live in different tables and may collide, so a match is always addressed
// by (kind, id).
type MatchKind string

const (
	MatchRegular    MatchKind = "regular"
	MatchTournament MatchKind = "tournament"
)

// MatchRef identifies exactly one match.
type MatchRef struct {
	Kind MatchKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func (r MatchRef) Validate() error {
	if r.Kind != MatchRegular && r.Kind != MatchTournament {
		return fmt.Errorf("unknown match kind %q", r.Kind)
	}
	if r.ID == uuid.Nil {
		return errors.New("match id is required")
	}
	return nil
}

func (r MatchRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// ChannelKey is the scoping tuple of a live channel. It is a closed sum type:
// EventKey | PrivateKey | SupportKey | MatchKey. Every switch over a key must
// handle all four.
//
// A key's identity is derived, never stored on its own. Filter() is the
// opaque string the realtime broker and the subscription registry use.
type ChannelKey interface {
	Kind() ChannelKind
	Filter() string
	isChannelKey()
}

// EventKey is the public channel of an event.
type EventKey struct {
	EventID uuid.UUID
}

// PrivateKey is a captain-to-captain channel. ParticipantA < ParticipantB
// always holds; build it with NewPrivateKey.
type PrivateKey struct {
	EventID      uuid.UUID
	ParticipantA uuid.UUID
	ParticipantB uuid.UUID
}

// SupportKey is a captain-to-organizer thread. AdminID is always the event's
// admin. A zero CaptainID addresses the admin's union view over every
// captain thread of the event.
type SupportKey struct {
	EventID   uuid.UUID
	CaptainID uuid.UUID
	AdminID   uuid.UUID
}

// MatchKey is scoped to the two rosters of one match.
type MatchKey struct {
	Match MatchRef
}

func (EventKey) Kind() ChannelKind   { return KindEvent }
func (PrivateKey) Kind() ChannelKind { return KindPrivate }
func (SupportKey) Kind() ChannelKind { return KindSupport }
func (MatchKey) Kind() ChannelKind   { return KindMatch }

func (EventKey) isChannelKey()   {}
func (PrivateKey) isChannelKey() {}
func (SupportKey) isChannelKey() {}
func (MatchKey) isChannelKey()   {}

func (k EventKey) Filter() string {
	return "event:" + k.EventID.String()
}

func (k PrivateKey) Filter() string {
	return fmt.Sprintf("private:%s:%s:%s", k.EventID, k.ParticipantA, k.ParticipantB)
}

func (k SupportKey) Filter() string {
	if k.IsUnion() {
		return fmt.Sprintf("support:%s:*", k.EventID)
	}
	return fmt.Sprintf("support:%s:%s", k.EventID, k.CaptainID)
}

func (k MatchKey) Filter() string {
	return "match:" + k.Match.String()
}

// IsUnion reports whether this is the admin-mode view over every thread.
func (k SupportKey) IsUnion() bool {
	return k.CaptainID == uuid.Nil
}

// Thread returns the single-captain key inside a union view.
func (k SupportKey) Thread(captainID uuid.UUID) SupportKey {
	return SupportKey{EventID: k.EventID, CaptainID: captainID, AdminID: k.AdminID}
}

// NewPrivateKey canonicalizes the unordered pair so both participants
// resolve to the same key.
func NewPrivateKey(eventID, a, b uuid.UUID) (PrivateKey, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return PrivateKey{}, errors.New("private channel needs two participants")
	}
	if a == b {
		return PrivateKey{}, errors.New("private channel participants must differ")
	}
	if a.String() > b.String() {
		a, b = b, a
	}
	return PrivateKey{EventID: eventID, ParticipantA: a, ParticipantB: b}, nil
}

// Has reports whether userID is one of the two participants.
func (k PrivateKey) Has(userID uuid.UUID) bool {
	return k.ParticipantA == userID || k.ParticipantB == userID
}

// PublishFilters returns every filter an event on key must be published to.
// A support thread also reaches the admin's union view.
func PublishFilters(key ChannelKey) []string {
	switch k := key.(type) {
	case SupportKey:
		if k.IsUnion() {
			return []string{k.Filter()}
		}
		union := SupportKey{EventID: k.EventID, AdminID: k.AdminID}
		return []string{k.Filter(), union.Filter()}
	case EventKey, PrivateKey, MatchKey:
		return []string{key.Filter()}
	}
	return nil
}

// Contains reports whether a message stored under msgKey belongs to a
// session opened on view. Only the support union view contains keys other
// than itself.
func Contains(view, msgKey ChannelKey) bool {
	if view == nil || msgKey == nil {
		return false
	}
	if v, ok := view.(SupportKey); ok && v.IsUnion() {
		m, ok := msgKey.(SupportKey)
		return ok && m.EventID == v.EventID && m.AdminID == v.AdminID
	}
	return view.Filter() == msgKey.Filter()
}

// Scope is the flat row/wire form of a ChannelKey. It only exists at the
// boundary (database rows, JSON); code inside the core passes ChannelKey.
type Scope struct {
	Kind         ChannelKind `json:"kind"`
	EventID      uuid.UUID   `json:"event_id"`
	ParticipantA uuid.UUID   `json:"participant_a"`
	ParticipantB uuid.UUID   `json:"participant_b"`
	CaptainID    uuid.UUID   `json:"captain_id"`
	AdminID      uuid.UUID   `json:"admin_id"`
	MatchKind    MatchKind   `json:"match_kind,omitempty"`
	MatchID      uuid.UUID   `json:"match_id"`
}

// ScopeOf flattens a key.
func ScopeOf(key ChannelKey) Scope {
	switch k := key.(type) {
	case EventKey:
		return Scope{Kind: KindEvent, EventID: k.EventID}
	case PrivateKey:
		return Scope{Kind: KindPrivate, EventID: k.EventID, ParticipantA: k.ParticipantA, ParticipantB: k.ParticipantB}
	case SupportKey:
		return Scope{Kind: KindSupport, EventID: k.EventID, CaptainID: k.CaptainID, AdminID: k.AdminID}
	case MatchKey:
		return Scope{Kind: KindMatch, MatchKind: k.Match.Kind, MatchID: k.Match.ID}
	}
	return Scope{}
}

// Key rebuilds and validates the typed key.
func (s Scope) Key() (ChannelKey, error) {
	switch s.Kind {
	case KindEvent:
		if s.EventID == uuid.Nil {
			return nil, errors.New("event channel needs an event id")
		}
		return EventKey{EventID: s.EventID}, nil
	case KindPrivate:
		if s.EventID == uuid.Nil {
			return nil, errors.New("private channel needs an event id")
		}
		k, err := NewPrivateKey(s.EventID, s.ParticipantA, s.ParticipantB)
		if err != nil {
			return nil, err
		}
		return k, nil
	case KindSupport:
		if s.EventID == uuid.Nil || s.AdminID == uuid.Nil {
			return nil, errors.New("support channel needs an event id and an admin id")
		}
		return SupportKey{EventID: s.EventID, CaptainID: s.CaptainID, AdminID: s.AdminID}, nil
	case KindMatch:
		ref := MatchRef{Kind: s.MatchKind, ID: s.MatchID}
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		return MatchKey{Match: ref}, nil
	}
	return nil, fmt.Errorf("unknown channel kind %q", s.Kind)
}

type messageJSON struct {
	ID                uuid.UUID `json:"id"`
	Channel           Scope     `json:"channel"`
	SenderID          uuid.UUID `json:"sender_id"`
	SenderDisplayName string    `json:"sender_display_name"`
	Body              string    `json:"body"`
	CreatedAt         string    `json:"created_at"`
}

// MarshalJSON writes the key as a Scope so realtime payloads and REST
// responses carry the channel.
func (m Message) MarshalJSON() ([]byte, error) {
	created, err := m.CreatedAt.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:                m.ID,
		Channel:           ScopeOf(m.Key),
		SenderID:          m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Body:              m.Body,
		CreatedAt:         string(created),
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := raw.Channel.Key()
	if err != nil {
		return fmt.Errorf("decode message channel: %w", err)
	}
	if err := m.CreatedAt.UnmarshalText([]byte(raw.CreatedAt)); err != nil {
		return fmt.Errorf("decode message created_at: %w", err)
	}
	m.ID = raw.ID
	m.Key = key
	m.SenderID = raw.SenderID
	m.SenderDisplayName = raw.SenderDisplayName
	m.Body = raw.Body
	return nil
}
