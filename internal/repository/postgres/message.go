package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/arenachat/internal/models"
)

// psql builds $1-style placeholders for pgx.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var messageColumns = []string{
	"id", "kind", "event_id", "participant_a", "participant_b",
	"captain_id", "admin_id", "match_kind", "match_id",
	"sender_id", "sender_display_name", "body", "created_at",
}

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Create(ctx context.Context, key models.ChannelKey, senderID uuid.UUID, senderDisplayName, body string) (*models.Message, error) {
	scope := models.ScopeOf(key)

	// The id is generated here so the row never depends on a Postgres
	// extension; created_at stays store-assigned (now()).
	query, args, err := psql.
		Insert("messages").
		Columns(messageColumns...).
		Values(
			uuid.New(),
			string(scope.Kind),
			nullable(scope.EventID),
			nullable(scope.ParticipantA),
			nullable(scope.ParticipantB),
			nullable(scope.CaptainID),
			nullable(scope.AdminID),
			nullableString(string(scope.MatchKind)),
			nullable(scope.MatchID),
			senderID,
			senderDisplayName,
			body,
			sq.Expr("now()"),
		).
		Suffix("RETURNING " + columnList()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert message: %w", err)
	}

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query, args, err := psql.
		Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get message: %w", err)
	}

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	// Deleting a row that is already gone affects zero rows and is not an
	// error: delete is idempotent.
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *MessageStore) ListRecent(ctx context.Context, key models.ChannelKey, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > models.HistoryLimit {
		limit = models.HistoryLimit
	}

	// Newest first so LIMIT keeps the most recent window, then reversed in
	// Go to the ascending order callers render.
	query, args, err := psql.
		Select(messageColumns...).
		From("messages").
		Where(scopeWhere(key)).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// scopeWhere is the exhaustive key -> column filter.
func scopeWhere(key models.ChannelKey) sq.Sqlizer {
	switch k := key.(type) {
	case models.EventKey:
		return sq.Eq{"kind": string(models.KindEvent), "event_id": k.EventID}
	case models.PrivateKey:
		return sq.Eq{
			"kind":          string(models.KindPrivate),
			"event_id":      k.EventID,
			"participant_a": k.ParticipantA,
			"participant_b": k.ParticipantB,
		}
	case models.SupportKey:
		where := sq.Eq{
			"kind":     string(models.KindSupport),
			"event_id": k.EventID,
			"admin_id": k.AdminID,
		}
		if !k.IsUnion() {
			where["captain_id"] = k.CaptainID
		}
		return where
	case models.MatchKey:
		return sq.Eq{
			"kind":       string(models.KindMatch),
			"match_kind": string(k.Match.Kind),
			"match_id":   k.Match.ID,
		}
	}
	// Unknown keys match nothing.
	return sq.Expr("false")
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg                                            models.Message
		kind                                           string
		eventID, partA, partB, captainID, adminID, mID uuid.NullUUID
		matchKind                                      *string
	)
	err := row.Scan(
		&msg.ID,
		&kind,
		&eventID,
		&partA,
		&partB,
		&captainID,
		&adminID,
		&matchKind,
		&mID,
		&msg.SenderID,
		&msg.SenderDisplayName,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	scope := models.Scope{
		Kind:         models.ChannelKind(kind),
		EventID:      eventID.UUID,
		ParticipantA: partA.UUID,
		ParticipantB: partB.UUID,
		CaptainID:    captainID.UUID,
		AdminID:      adminID.UUID,
		MatchID:      mID.UUID,
	}
	if matchKind != nil {
		scope.MatchKind = models.MatchKind(*matchKind)
	}
	key, err := scope.Key()
	if err != nil {
		return nil, fmt.Errorf("decode scope of message %s: %w", msg.ID, err)
	}
	msg.Key = key
	return &msg, nil
}

func columnList() string {
	return strings.Join(messageColumns, ", ")
}

func nullable(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
