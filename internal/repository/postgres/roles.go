package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/arenachat/internal/models"
)

// RoleStore answers authorization predicates against the event, team and
// match tables. It never writes.
type RoleStore struct {
	pool *pgxpool.Pool
}

func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

func (s *RoleStore) IsEventRegistrant(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	// EXISTS stops at the first match; this runs on every channel open.
	query := `
		SELECT EXISTS (
			SELECT 1 FROM event_registrations
			WHERE event_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, eventID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (s *RoleStore) EventAdmin(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	var adminID uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT admin_id FROM events WHERE id = $1`, eventID).Scan(&adminID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("get event admin: %w", err)
	}
	return adminID, nil
}

func (s *RoleStore) IsGlobalAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var isAdmin bool
	err := s.pool.QueryRow(ctx, `SELECT is_admin FROM users WHERE id = $1`, userID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check admin flag: %w", err)
	}
	return isAdmin, nil
}

func (s *RoleStore) TeamCaptainOf(ctx context.Context, eventID, userID uuid.UUID) (uuid.UUID, bool, error) {
	query := `
		SELECT id FROM teams
		WHERE event_id = $1 AND captain_id = $2
		LIMIT 1`

	var teamID uuid.UUID
	err := s.pool.QueryRow(ctx, query, eventID, userID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("get captained team: %w", err)
	}
	return teamID, true, nil
}

func (s *RoleStore) Captains(ctx context.Context, eventID uuid.UUID) ([]models.Captain, error) {
	query := `
		SELECT t.captain_id, t.id, t.name, u.display_name
		FROM teams t
		JOIN users u ON u.id = t.captain_id
		WHERE t.event_id = $1
		ORDER BY t.name`

	rows, err := s.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list captains: %w", err)
	}
	defer rows.Close()

	captains := make([]models.Captain, 0)
	for rows.Next() {
		var c models.Captain
		if err := rows.Scan(&c.UserID, &c.TeamID, &c.TeamName, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("scan captain: %w", err)
		}
		captains = append(captains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captains: %w", err)
	}
	return captains, nil
}

func (s *RoleStore) MatchRoster(ctx context.Context, match models.MatchRef) (*models.MatchRoster, error) {
	// Regular and tournament matches live in separate tables; the table
	// name comes from this switch, never from input.
	var table string
	switch match.Kind {
	case models.MatchRegular:
		table = "matches"
	case models.MatchTournament:
		table = "tournament_matches"
	default:
		return nil, fmt.Errorf("unknown match kind %q", match.Kind)
	}

	roster := &models.MatchRoster{Match: match}
	var teamA, teamB uuid.NullUUID
	query := fmt.Sprintf(`SELECT event_id, team_a_id, team_b_id FROM %s WHERE id = $1`, table)
	err := s.pool.QueryRow(ctx, query, match.ID).Scan(&roster.EventID, &teamA, &teamB)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get match: %w", err)
	}
	for _, t := range []uuid.NullUUID{teamA, teamB} {
		if t.Valid {
			roster.TeamIDs = append(roster.TeamIDs, t.UUID)
		}
	}
	if len(roster.TeamIDs) == 0 {
		return roster, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM team_members WHERE team_id = ANY($1)`,
		roster.TeamIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list roster members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan roster member: %w", err)
		}
		roster.Members = append(roster.Members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster members: %w", err)
	}
	return roster, nil
}
