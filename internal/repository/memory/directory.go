package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// Team is one team of an event as the directory stores it.
type Team struct {
	ID        uuid.UUID   `json:"id"`
	EventID   uuid.UUID   `json:"event_id"`
	Name      string      `json:"name"`
	CaptainID uuid.UUID   `json:"captain_id"`
	Members   []uuid.UUID `json:"members"`
}

// Match links a match to the two teams playing it.
type Match struct {
	Ref     models.MatchRef `json:"ref"`
	EventID uuid.UUID       `json:"event_id"`
	TeamA   uuid.UUID       `json:"team_a"`
	TeamB   uuid.UUID       `json:"team_b"`
}

// Directory is an in-memory stand-in for the account, event, team and match
// data the messaging core reads. It satisfies both UserRepository and
// RoleRepository.
type Directory struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]models.SenderMetadata
	eventAdmins   map[uuid.UUID]uuid.UUID
	registrations map[uuid.UUID]map[uuid.UUID]bool
	teams         map[uuid.UUID]Team
	matches       map[models.MatchRef]Match
}

func NewDirectory() *Directory {
	return &Directory{
		users:         make(map[uuid.UUID]models.SenderMetadata),
		eventAdmins:   make(map[uuid.UUID]uuid.UUID),
		registrations: make(map[uuid.UUID]map[uuid.UUID]bool),
		teams:         make(map[uuid.UUID]Team),
		matches:       make(map[models.MatchRef]Match),
	}
}

func (d *Directory) AddUser(md models.SenderMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[md.UserID] = md
}

func (d *Directory) AddEvent(eventID, adminID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventAdmins[eventID] = adminID
}

func (d *Directory) Register(eventID, userID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registrations[eventID] == nil {
		d.registrations[eventID] = make(map[uuid.UUID]bool)
	}
	d.registrations[eventID][userID] = true
}

// AddTeam stores the team. The captain counts as a member.
func (d *Directory) AddTeam(t Team) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.CaptainID != uuid.Nil && !slices.Contains(t.Members, t.CaptainID) {
		t.Members = append(t.Members, t.CaptainID)
	}
	d.teams[t.ID] = t
}

func (d *Directory) AddMatch(m Match) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches[m.Ref] = m
}

func (d *Directory) GetSenderMetadata(ctx context.Context, userID uuid.UUID) (*models.SenderMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	md, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	return &md, nil
}

func (d *Directory) IsEventRegistrant(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registrations[eventID][userID], nil
}

func (d *Directory) EventAdmin(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eventAdmins[eventID], nil
}

func (d *Directory) IsGlobalAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.users[userID].IsAdmin, nil
}

func (d *Directory) TeamCaptainOf(ctx context.Context, eventID, userID uuid.UUID) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, t := range d.teams {
		if t.EventID == eventID && t.CaptainID == userID {
			return t.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (d *Directory) Captains(ctx context.Context, eventID uuid.UUID) ([]models.Captain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	captains := make([]models.Captain, 0)
	for _, t := range d.teams {
		if t.EventID != eventID || t.CaptainID == uuid.Nil {
			continue
		}
		captains = append(captains, models.Captain{
			UserID:      t.CaptainID,
			TeamID:      t.ID,
			TeamName:    t.Name,
			DisplayName: d.users[t.CaptainID].DisplayName,
		})
	}
	slices.SortFunc(captains, func(a, b models.Captain) int {
		return strings.Compare(a.TeamName, b.TeamName)
	})
	return captains, nil
}

func (d *Directory) MatchRoster(ctx context.Context, match models.MatchRef) (*models.MatchRoster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.matches[match]
	if !ok {
		return nil, nil
	}
	roster := &models.MatchRoster{Match: match, EventID: m.EventID}
	for _, teamID := range []uuid.UUID{m.TeamA, m.TeamB} {
		t, ok := d.teams[teamID]
		if !ok {
			continue
		}
		roster.TeamIDs = append(roster.TeamIDs, t.ID)
		for _, member := range t.Members {
			if !slices.Contains(roster.Members, member) {
				roster.Members = append(roster.Members, member)
			}
		}
	}
	return roster, nil
}
