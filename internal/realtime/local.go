package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrOffline is returned while a LocalBroker is switched offline.
var ErrOffline = errors.New("realtime broker offline")

// LocalBroker delivers events in process. It backs self-contained mode and
// the tests, and can simulate a transport outage.
type LocalBroker struct {
	mu      sync.RWMutex
	feeds   map[string]map[*localFeed]struct{}
	offline bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{feeds: make(map[string]map[*localFeed]struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, filter string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.offline {
		b.mu.RUnlock()
		return ErrOffline
	}
	targets := make([]*localFeed, 0, len(b.feeds[filter]))
	for f := range b.feeds[filter] {
		targets = append(targets, f)
	}
	b.mu.RUnlock()

	for _, f := range targets {
		f.deliver(ev)
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, filter string, deliver func(Event)) (Feed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offline {
		return nil, ErrOffline
	}
	f := &localFeed{
		broker:  b,
		filter:  filter,
		deliver: deliver,
		done:    make(chan struct{}),
	}
	if b.feeds[filter] == nil {
		b.feeds[filter] = make(map[*localFeed]struct{})
	}
	b.feeds[filter][f] = struct{}{}
	return f, nil
}

// Disconnect drops every open feed as a transport failure would.
func (b *LocalBroker) Disconnect() {
	b.mu.Lock()
	feeds := b.feeds
	b.feeds = make(map[string]map[*localFeed]struct{})
	b.mu.Unlock()

	for _, set := range feeds {
		for f := range set {
			f.fail(ErrDisconnected)
		}
	}
}

// SetOffline makes Publish and Subscribe fail until switched back.
func (b *LocalBroker) SetOffline(offline bool) {
	b.mu.Lock()
	b.offline = offline
	b.mu.Unlock()
}

// FeedCount is the number of open transport feeds for filter.
func (b *LocalBroker) FeedCount(filter string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.feeds[filter])
}

func (b *LocalBroker) remove(f *localFeed) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.feeds[f.filter]
	delete(set, f)
	if len(set) == 0 {
		delete(b.feeds, f.filter)
	}
}

type localFeed struct {
	broker  *LocalBroker
	filter  string
	deliver func(Event)

	done     chan struct{}
	failOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (f *localFeed) Done() <-chan struct{} {
	return f.done
}

func (f *localFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *localFeed) Close() error {
	f.broker.remove(f)
	return nil
}

func (f *localFeed) fail(err error) {
	f.failOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}
