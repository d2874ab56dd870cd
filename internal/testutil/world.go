// Package testutil builds a small in-memory event for package tests.
package testutil

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/repository/memory"
)

// World is one event with an admin, two teams, a match between them and a
// few bystanders.
type World struct {
	Dir      *memory.Directory
	Messages *memory.MessageStore

	EventID     uuid.UUID
	Admin       uuid.UUID
	GlobalAdmin uuid.UUID
	CaptainX    uuid.UUID
	CaptainY    uuid.UUID
	MemberX     uuid.UUID
	Registrant  uuid.UUID
	Outsider    uuid.UUID

	TeamX uuid.UUID
	TeamY uuid.UUID

	Match       models.MatchRef
	BrokenMatch models.MatchRef
}

func NewWorld() *World {
	w := &World{
		Dir:         memory.NewDirectory(),
		Messages:    memory.NewMessageStore(),
		EventID:     uuid.New(),
		Admin:       uuid.New(),
		GlobalAdmin: uuid.New(),
		CaptainX:    uuid.New(),
		CaptainY:    uuid.New(),
		MemberX:     uuid.New(),
		Registrant:  uuid.New(),
		Outsider:    uuid.New(),
		TeamX:       uuid.New(),
		TeamY:       uuid.New(),
		Match:       models.MatchRef{Kind: models.MatchRegular, ID: uuid.New()},
		BrokenMatch: models.MatchRef{Kind: models.MatchTournament, ID: uuid.New()},
	}

	names := map[uuid.UUID]string{
		w.Admin:       "Organizer",
		w.GlobalAdmin: "Platform",
		w.CaptainX:    "Xavier",
		w.CaptainY:    "Yasmin",
		w.MemberX:     "Max",
		w.Registrant:  "Rita",
		w.Outsider:    "Otto",
	}
	for id, name := range names {
		w.Dir.AddUser(models.SenderMetadata{
			UserID:      id,
			DisplayName: name,
			AvatarRef:   "avatars/" + name + ".png",
			IsAdmin:     id == w.GlobalAdmin,
		})
	}

	w.Dir.AddEvent(w.EventID, w.Admin)
	for _, id := range []uuid.UUID{w.CaptainX, w.CaptainY, w.MemberX, w.Registrant} {
		w.Dir.Register(w.EventID, id)
	}
	w.Dir.AddTeam(memory.Team{ID: w.TeamX, EventID: w.EventID, Name: "Team X", CaptainID: w.CaptainX, Members: []uuid.UUID{w.MemberX}})
	w.Dir.AddTeam(memory.Team{ID: w.TeamY, EventID: w.EventID, Name: "Team Y", CaptainID: w.CaptainY})
	w.Dir.AddMatch(memory.Match{Ref: w.Match, EventID: w.EventID, TeamA: w.TeamX, TeamB: w.TeamY})
	w.Dir.AddMatch(memory.Match{Ref: w.BrokenMatch, EventID: w.EventID, TeamA: w.TeamX, TeamB: uuid.New()})
	return w
}

// Caller returns the caller for a user of the world.
func (w *World) Caller(userID uuid.UUID, adminMode bool) identity.Caller {
	md, _ := w.Dir.GetSenderMetadata(context.Background(), userID)
	c := identity.Caller{UserID: userID, AdminMode: adminMode}
	if md != nil {
		c.DisplayName = md.DisplayName
		c.IsGlobalAdmin = md.IsAdmin
	}
	return c
}

// Provider returns a role provider for a user of the world.
func (w *World) Provider(userID uuid.UUID, adminMode bool) identity.Provider {
	return identity.NewProvider(w.Caller(userID, adminMode), w.Dir)
}

// PrivateKey is the Private channel between the two captains.
func (w *World) PrivateKey() models.PrivateKey {
	k, _ := models.NewPrivateKey(w.EventID, w.CaptainX, w.CaptainY)
	return k
}

// SupportThread is the Support thread of the given captain.
func (w *World) SupportThread(captainID uuid.UUID) models.SupportKey {
	return models.SupportKey{EventID: w.EventID, CaptainID: captainID, AdminID: w.Admin}
}
