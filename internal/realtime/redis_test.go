package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Runs against a real Redis only when REDIS_TEST_URL is set.
func TestRedisBroker_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	broker := NewRedisBroker(client, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := models.EventKey{EventID: uuid.New()}
	got := make(chan Event, 1)
	feed, err := broker.Subscribe(ctx, key.Filter(), func(ev Event) { got <- ev })
	require.NoError(t, err)
	defer feed.Close()

	msg := message(key, "over redis")
	require.NoError(t, broker.Publish(ctx, key.Filter(), Created(msg)))

	select {
	case ev := <-got:
		assert.Equal(t, EventMessageCreated, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, msg.ID, ev.Message.ID)
		assert.Equal(t, key, ev.Message.Key)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
