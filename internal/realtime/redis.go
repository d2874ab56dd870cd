package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// channelPrefix namespaces our Pub/Sub channels on a shared Redis.
const channelPrefix = "arenachat:"

// RedisBroker carries events between server instances over Redis Pub/Sub.
// Every instance, including the publisher, receives its own events, so the
// author's session sees the echo of its send the same way everyone else does.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, filter string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+filter, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, filter string, deliver func(Event)) (Feed, error) {
	ps := b.client.Subscribe(ctx, channelPrefix+filter)

	// Wait for the subscription confirmation so a publish right after
	// Subscribe returns cannot be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", filter, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f := &redisFeed{
		pubsub: ps,
		filter: filter,
		logger: b.logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run(runCtx, deliver)
	return f, nil
}

type redisFeed struct {
	pubsub *redis.PubSub
	filter string
	logger *zap.Logger
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (f *redisFeed) run(ctx context.Context, deliver func(Event)) {
	for {
		msg, err := f.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// go-redis would silently resubscribe on the next call, hiding
			// the gap. Surface it so the manager can resync.
			f.mu.Lock()
			f.err = fmt.Errorf("%w: %v", ErrDisconnected, err)
			f.mu.Unlock()
			close(f.done)
			return
		}

		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			f.logger.Warn("dropping malformed realtime payload",
				zap.String("channel", f.filter),
				zap.Error(err),
			)
			continue
		}
		deliver(ev)
	}
}

func (f *redisFeed) Done() <-chan struct{} {
	return f.done
}

func (f *redisFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *redisFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.cancel()
		err = f.pubsub.Close()
	})
	return err
}
