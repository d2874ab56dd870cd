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

// UserStore reads the users table owned by the account subsystem.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetSenderMetadata returns the display fields of one user.
func (s *UserStore) GetSenderMetadata(ctx context.Context, userID uuid.UUID) (*models.SenderMetadata, error) {
	query := `
		SELECT id, display_name, COALESCE(avatar_ref, ''), is_admin
		FROM users
		WHERE id = $1`

	var md models.SenderMetadata
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&md.UserID,
		&md.DisplayName,
		&md.AvatarRef,
		&md.IsAdmin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sender metadata: %w", err)
	}
	return &md, nil
}
