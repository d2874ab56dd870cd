package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/observ"
	"github.com/lalith-99/arenachat/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PlaceholderAvatar is shown when a sender's metadata cannot be resolved.
const PlaceholderAvatar = "avatar:placeholder"

const (
	DefaultCacheSize = 256
	DefaultTimeout   = 2 * time.Second
)

// ErrUnknownSender means the user no longer exists.
var ErrUnknownSender = errors.New("unknown sender")

// Resolver memoizes sender metadata for one channel session.
//
// Why per session and not one process-wide cache?
//   - No invalidation exists. Scoping the cache to a session bounds
//     staleness to the session's lifetime; reopening the channel refreshes
//     every name and avatar.
//
// Why singleflight?
//   - History load and a burst of live inserts from the same sender would
//     otherwise issue one lookup per message.
//
// Failures are not cached, so a later message from the same sender retries.
type Resolver struct {
	users   repository.UserRepository
	cache   *lru.Cache[uuid.UUID, models.SenderMetadata]
	group   singleflight.Group
	timeout time.Duration
	logger  *zap.Logger
	metrics *observ.Metrics
}

func New(users repository.UserRepository, size int, timeout time.Duration, logger *zap.Logger, metrics *observ.Metrics) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, err := lru.New[uuid.UUID, models.SenderMetadata](size)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	return &Resolver{
		users:   users,
		cache:   cache,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Cached returns memoized metadata without a lookup.
func (r *Resolver) Cached(userID uuid.UUID) (models.SenderMetadata, bool) {
	return r.cache.Get(userID)
}

// Resolve returns the sender's metadata, looking it up on a miss. The
// lookup is bounded by the resolver's timeout so render never waits
// indefinitely.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (models.SenderMetadata, error) {
	if md, ok := r.cache.Get(userID); ok {
		r.metrics.MetadataLookup("hit")
		return md, nil
	}

	v, err, _ := r.group.Do(userID.String(), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		md, err := r.users.GetSenderMetadata(lookupCtx, userID)
		if err != nil {
			return nil, apperr.TransientIO(err, "look up sender %s", userID)
		}
		if md == nil {
			return nil, ErrUnknownSender
		}
		r.cache.Add(userID, *md)
		return *md, nil
	})
	if err != nil {
		r.metrics.MetadataLookup("fallback")
		return models.SenderMetadata{}, err
	}
	r.metrics.MetadataLookup("miss")
	return v.(models.SenderMetadata), nil
}

// Fallback is what renders when the lookup failed: the send-time name
// snapshot and a generic avatar.
func Fallback(m models.Message) models.SenderMetadata {
	return models.SenderMetadata{
		UserID:      m.SenderID,
		DisplayName: m.SenderDisplayName,
		AvatarRef:   PlaceholderAvatar,
	}
}
