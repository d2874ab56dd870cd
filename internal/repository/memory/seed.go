package memory

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// Seed is the JSON document self-contained mode loads into a Directory.
type Seed struct {
	Users   []models.SenderMetadata `json:"users"`
	Events  []SeedEvent             `json:"events"`
	Teams   []Team                  `json:"teams"`
	Matches []Match                 `json:"matches"`
}

type SeedEvent struct {
	ID          uuid.UUID   `json:"id"`
	AdminID     uuid.UUID   `json:"admin_id"`
	Registrants []uuid.UUID `json:"registrants"`
}

// LoadSeed decodes a Seed from r and applies it to d.
func (d *Directory) LoadSeed(r io.Reader) error {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, u := range seed.Users {
		d.AddUser(u)
	}
	for _, e := range seed.Events {
		d.AddEvent(e.ID, e.AdminID)
		for _, userID := range e.Registrants {
			d.Register(e.ID, userID)
		}
	}
	for _, t := range seed.Teams {
		d.AddTeam(t)
	}
	for _, m := range seed.Matches {
		if err := m.Ref.Validate(); err != nil {
			return fmt.Errorf("seed match: %w", err)
		}
		d.AddMatch(m)
	}
	return nil
}
