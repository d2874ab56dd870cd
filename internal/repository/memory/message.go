package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
)

// MessageStore keeps messages in process memory. It backs self-contained
// mode and the tests.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]models.Message
	last     time.Time
	now      func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[uuid.UUID]models.Message),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for created_at. Tests use it to force
// equal timestamps.
func (s *MessageStore) WithClock(now func() time.Time) *MessageStore {
	s.now = now
	return s
}

func (s *MessageStore) Create(ctx context.Context, key models.ChannelKey, senderID uuid.UUID, senderDisplayName, body string) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// created_at never goes backwards, like a store-assigned now().
	createdAt := s.now().UTC()
	if createdAt.Before(s.last) {
		createdAt = s.last
	}
	s.last = createdAt

	msg := models.Message{
		ID:                uuid.New(),
		Key:               key,
		SenderID:          senderID,
		SenderDisplayName: senderDisplayName,
		Body:              body,
		CreatedAt:         createdAt,
	}
	s.messages[msg.ID] = msg
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (s *MessageStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return false, nil
	}
	delete(s.messages, id)
	return true, nil
}

func (s *MessageStore) ListRecent(ctx context.Context, key models.ChannelKey, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > models.HistoryLimit {
		limit = models.HistoryLimit
	}

	s.mu.RLock()
	matched := make([]models.Message, 0)
	for _, msg := range s.messages {
		if models.Contains(key, msg.Key) {
			matched = append(matched, msg)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b models.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}
