package store

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/observ"
	"github.com/lalith-99/arenachat/internal/realtime"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/resolver"
	"go.uber.org/zap"
)

// Publisher fans a stored change out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, key models.ChannelKey, ev realtime.Event) error
}

// Client is the only path by which messages are read from or written to
// the store.
//
// Why re-run the resolver here when the session already holds a Capability?
//   - The session's capability is a UI hint computed when the channel
//     opened. Roles may have changed since, and a remote client can send
//     anything. Every fetch, insert and delete is authorized again from
//     current role data.
type Client struct {
	messages     repository.MessageRepository
	resolver     *resolver.Resolver
	publisher    Publisher
	historyLimit int
	logger       *zap.Logger
	metrics      *observ.Metrics
}

func New(
	messages repository.MessageRepository,
	res *resolver.Resolver,
	publisher Publisher,
	historyLimit int,
	logger *zap.Logger,
	metrics *observ.Metrics,
) *Client {
	if historyLimit <= 0 || historyLimit > models.HistoryLimit {
		historyLimit = models.HistoryLimit
	}
	return &Client{
		messages:     messages,
		resolver:     res,
		publisher:    publisher,
		historyLimit: historyLimit,
		logger:       logger,
		metrics:      metrics,
	}
}

// ValidateBody trims body and checks it against the length rules. It never
// touches the network.
func ValidateBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", apperr.Validation("message body is empty")
	}
	if !utf8.ValidString(trimmed) {
		return "", apperr.Validation("message body is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(trimmed); n > models.MaxBodyRunes {
		return "", apperr.Validation("message body is %d characters, the limit is %d", n, models.MaxBodyRunes)
	}
	return trimmed, nil
}

// FetchHistory returns the most recent messages of key, oldest first.
func (c *Client) FetchHistory(ctx context.Context, p identity.Provider, key models.ChannelKey) ([]models.Message, error) {
	if !c.resolver.CapabilityFor(ctx, p, key).CanRead {
		return nil, apperr.Authorization("not allowed to read %s", key.Filter())
	}

	start := time.Now()
	messages, err := c.messages.ListRecent(ctx, key, c.historyLimit)
	c.metrics.HistoryFetched(time.Since(start).Seconds())
	if err != nil {
		return nil, apperr.TransientIO(err, "fetch history")
	}
	return messages, nil
}

// Insert validates, authorizes, stores and publishes a message. The
// sender's name is snapshotted from the caller at send time.
func (c *Client) Insert(ctx context.Context, p identity.Provider, key models.ChannelKey, body string) (*models.Message, error) {
	trimmed, err := ValidateBody(body)
	if err != nil {
		c.metrics.Write("insert", string(apperr.KindValidation))
		return nil, err
	}

	if !c.resolver.CapabilityFor(ctx, p, key).CanWrite {
		c.metrics.Write("insert", string(apperr.KindAuthorization))
		return nil, apperr.Authorization("not allowed to write to %s", key.Filter())
	}

	caller := p.Caller()
	msg, err := c.messages.Create(ctx, key, caller.UserID, caller.DisplayName, trimmed)
	if err != nil {
		c.metrics.Write("insert", string(apperr.KindTransientIO))
		return nil, apperr.TransientIO(err, "insert message")
	}
	c.metrics.Write("insert", "ok")

	// The row is committed; a publish failure only delays live delivery
	// until the next resync, so it is logged rather than returned.
	if err := c.publisher.Publish(ctx, key, realtime.Created(*msg)); err != nil {
		c.logger.Warn("publish insert failed",
			zap.String("channel", key.Filter()),
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
	}
	return msg, nil
}

// Delete removes a message if the caller may delete it. Deleting a message
// that is already gone succeeds.
func (c *Client) Delete(ctx context.Context, p identity.Provider, id uuid.UUID) error {
	msg, err := c.messages.GetByID(ctx, id)
	if err != nil {
		c.metrics.Write("delete", string(apperr.KindTransientIO))
		return apperr.TransientIO(err, "load message")
	}
	if msg == nil {
		c.metrics.Write("delete", string(apperr.KindNotFound))
		return nil
	}

	if !c.resolver.CapabilityFor(ctx, p, msg.Key).CanDelete(*msg) {
		c.metrics.Write("delete", string(apperr.KindAuthorization))
		return apperr.Authorization("not allowed to delete message %s", id)
	}

	deleted, err := c.messages.Delete(ctx, id)
	if err != nil {
		c.metrics.Write("delete", string(apperr.KindTransientIO))
		return apperr.TransientIO(err, "delete message")
	}
	if !deleted {
		c.metrics.Write("delete", string(apperr.KindNotFound))
		return nil
	}
	c.metrics.Write("delete", "ok")

	if err := c.publisher.Publish(ctx, msg.Key, realtime.Deleted(id)); err != nil {
		c.logger.Warn("publish delete failed",
			zap.String("channel", msg.Key.Filter()),
			zap.String("message_id", id.String()),
			zap.Error(err),
		)
	}
	return nil
}
