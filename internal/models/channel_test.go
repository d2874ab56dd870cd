package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrivateKey_Canonical(t *testing.T) {
	event := uuid.New()
	a, b := uuid.New(), uuid.New()

	k1, err := NewPrivateKey(event, a, b)
	require.NoError(t, err)
	k2, err := NewPrivateKey(event, b, a)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, k1.Filter(), k2.Filter())
	assert.True(t, k1.Has(a))
	assert.True(t, k1.Has(b))
	assert.False(t, k1.Has(uuid.New()))
}

func TestNewPrivateKey_Rejects(t *testing.T) {
	event := uuid.New()
	a := uuid.New()

	_, err := NewPrivateKey(event, a, a)
	assert.Error(t, err)

	_, err = NewPrivateKey(event, a, uuid.Nil)
	assert.Error(t, err)
}

func TestFilters_DistinctPerKind(t *testing.T) {
	id := uuid.New()
	regular := MatchKey{Match: MatchRef{Kind: MatchRegular, ID: id}}
	tournament := MatchKey{Match: MatchRef{Kind: MatchTournament, ID: id}}

	assert.NotEqual(t, regular.Filter(), tournament.Filter())
	assert.NotEqual(t, EventKey{EventID: id}.Filter(), regular.Filter())
}

func TestPublishFilters_SupportReachesUnion(t *testing.T) {
	thread := SupportKey{EventID: uuid.New(), CaptainID: uuid.New(), AdminID: uuid.New()}
	union := SupportKey{EventID: thread.EventID, AdminID: thread.AdminID}

	filters := PublishFilters(thread)
	assert.Equal(t, []string{thread.Filter(), union.Filter()}, filters)

	assert.Equal(t, []string{union.Filter()}, PublishFilters(union))

	event := EventKey{EventID: uuid.New()}
	assert.Equal(t, []string{event.Filter()}, PublishFilters(event))
}

func TestContains(t *testing.T) {
	eventID, adminID := uuid.New(), uuid.New()
	thread := SupportKey{EventID: eventID, CaptainID: uuid.New(), AdminID: adminID}
	other := SupportKey{EventID: eventID, CaptainID: uuid.New(), AdminID: adminID}
	union := SupportKey{EventID: eventID, AdminID: adminID}

	assert.True(t, Contains(union, thread))
	assert.True(t, Contains(union, other))
	assert.True(t, Contains(thread, thread))
	assert.False(t, Contains(thread, other))
	assert.False(t, Contains(union, EventKey{EventID: eventID}))
	assert.False(t, Contains(nil, thread))
}

func TestScope_RoundTripPerKind(t *testing.T) {
	priv, err := NewPrivateKey(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	keys := []ChannelKey{
		EventKey{EventID: uuid.New()},
		priv,
		SupportKey{EventID: uuid.New(), CaptainID: uuid.New(), AdminID: uuid.New()},
		MatchKey{Match: MatchRef{Kind: MatchTournament, ID: uuid.New()}},
	}
	for _, key := range keys {
		t.Run(string(key.Kind()), func(t *testing.T) {
			got, err := ScopeOf(key).Key()
			require.NoError(t, err)
			assert.Equal(t, key, got)
		})
	}
}

func TestScope_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
	}{
		{name: "unknown kind", scope: Scope{Kind: "lobby"}},
		{name: "event without id", scope: Scope{Kind: KindEvent}},
		{name: "support without admin", scope: Scope{Kind: KindSupport, EventID: uuid.New()}},
		{name: "match without kind", scope: Scope{Kind: KindMatch, MatchID: uuid.New()}},
		{name: "private with one participant", scope: Scope{Kind: KindPrivate, EventID: uuid.New(), ParticipantA: uuid.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.scope.Key()
			assert.Error(t, err)
			assert.Nil(t, key)
		})
	}
}

func TestMessage_JSONCarriesChannel(t *testing.T) {
	msg := Message{
		ID:                uuid.New(),
		Key:               MatchKey{Match: MatchRef{Kind: MatchRegular, ID: uuid.New()}},
		SenderID:          uuid.New(),
		SenderDisplayName: "x",
		Body:              "gg",
		CreatedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"match_kind":"regular"`)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Key, decoded.Key)
	assert.True(t, msg.CreatedAt.Equal(decoded.CreatedAt))
}

func TestMessage_BeforeBreaksTiesByID(t *testing.T) {
	at := time.Now()
	a := Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), CreatedAt: at}
	b := Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), CreatedAt: at}
	c := Message{ID: uuid.MustParse("00000000-0000-0000-0000-000000000000"), CreatedAt: at.Add(time.Millisecond)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestCapability_DeniedByDefault(t *testing.T) {
	c := Denied()
	assert.False(t, c.CanRead)
	assert.True(t, c.Locked())
	assert.False(t, c.CanDelete(Message{}))

	allow := NewCapability(true, true, func(Message) bool { return true })
	assert.True(t, allow.CanDelete(Message{}))
	assert.False(t, allow.Locked())
}
