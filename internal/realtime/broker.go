package realtime

import (
	"context"
	"errors"
)

// ErrDisconnected is the error a feed ends with when its transport drops.
var ErrDisconnected = errors.New("realtime transport disconnected")

// Broker is a publish/subscribe transport keyed by an opaque filter string
// (models.ChannelKey.Filter()).
//
// Why a callback instead of returning a channel?
//   - The Manager fans one transport feed out to many local subscribers.
//     A callback lets it do that without an extra goroutine and queue per
//     feed in front of the per-subscriber queues.
type Broker interface {
	Publish(ctx context.Context, filter string, ev Event) error
	// Subscribe opens a feed. deliver is called from the broker's own
	// goroutine and must not block.
	Subscribe(ctx context.Context, filter string, deliver func(Event)) (Feed, error)
}

// Feed is one open transport subscription.
type Feed interface {
	// Done is closed when the transport ends the feed on its own. It is not
	// closed by Close.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Close() error
}
