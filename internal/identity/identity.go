package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/repository"
)

// ErrUnresolvableMatch is returned when a match exists but its rosters
// cannot be joined. Callers must treat it as "not a participant".
var ErrUnresolvableMatch = errors.New("match rosters cannot be resolved")

// Caller is who is making the request, as the token says.
//
// Why AdminMode on the caller and not on each request?
//   - An admin browsing the app as a regular participant should not see
//     delete buttons or the support union. Admin mode is an explicit toggle
//     the client sends once per connection.
type Caller struct {
	UserID        uuid.UUID
	DisplayName   string
	IsGlobalAdmin bool
	AdminMode     bool
}

// Provider answers the role questions about one caller. The messaging core
// never mutates anything behind it.
type Provider interface {
	Caller() Caller
	CurrentUserID() uuid.UUID
	IsEventRegistrant(ctx context.Context, eventID uuid.UUID) (bool, error)
	IsEventAdmin(ctx context.Context, eventID uuid.UUID) (bool, error)
	EventAdmin(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)
	TeamCaptain(ctx context.Context, eventID uuid.UUID) (uuid.UUID, bool, error)
	Captains(ctx context.Context, eventID uuid.UUID) ([]models.Captain, error)
	MatchRoster(ctx context.Context, match models.MatchRef) (*models.MatchRoster, error)
	IsMatchParticipant(ctx context.Context, match models.MatchRef) (bool, error)
	IsGlobalAdmin(ctx context.Context) (bool, error)
}

// RepoProvider answers from a RoleRepository. Nothing is cached: every call
// reads the current role data.
type RepoProvider struct {
	caller Caller
	roles  repository.RoleRepository
}

func NewProvider(caller Caller, roles repository.RoleRepository) *RepoProvider {
	return &RepoProvider{caller: caller, roles: roles}
}

func (p *RepoProvider) Caller() Caller {
	return p.caller
}

func (p *RepoProvider) CurrentUserID() uuid.UUID {
	return p.caller.UserID
}

func (p *RepoProvider) IsEventRegistrant(ctx context.Context, eventID uuid.UUID) (bool, error) {
	return p.roles.IsEventRegistrant(ctx, eventID, p.caller.UserID)
}

func (p *RepoProvider) IsEventAdmin(ctx context.Context, eventID uuid.UUID) (bool, error) {
	adminID, err := p.roles.EventAdmin(ctx, eventID)
	if err != nil {
		return false, err
	}
	return adminID != uuid.Nil && adminID == p.caller.UserID, nil
}

func (p *RepoProvider) EventAdmin(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	return p.roles.EventAdmin(ctx, eventID)
}

func (p *RepoProvider) TeamCaptain(ctx context.Context, eventID uuid.UUID) (uuid.UUID, bool, error) {
	return p.roles.TeamCaptainOf(ctx, eventID, p.caller.UserID)
}

func (p *RepoProvider) Captains(ctx context.Context, eventID uuid.UUID) ([]models.Captain, error) {
	return p.roles.Captains(ctx, eventID)
}

func (p *RepoProvider) MatchRoster(ctx context.Context, match models.MatchRef) (*models.MatchRoster, error) {
	return p.roles.MatchRoster(ctx, match)
}

func (p *RepoProvider) IsMatchParticipant(ctx context.Context, match models.MatchRef) (bool, error) {
	roster, err := p.roles.MatchRoster(ctx, match)
	if err != nil {
		return false, err
	}
	if roster == nil {
		return false, nil
	}
	if !roster.Resolvable() {
		return false, fmt.Errorf("match %s: %w", match, ErrUnresolvableMatch)
	}
	return roster.HasMember(p.caller.UserID), nil
}

// IsGlobalAdmin reads the flag from the store rather than trusting the
// token's copy, so revoking admin takes effect without a new token.
func (p *RepoProvider) IsGlobalAdmin(ctx context.Context) (bool, error) {
	return p.roles.IsGlobalAdmin(ctx, p.caller.UserID)
}
