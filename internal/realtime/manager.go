package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/observ"
	"github.com/lalith-99/arenachat/internal/retry"
	"go.uber.org/zap"
)

// DefaultQueueSize bounds each subscriber's event queue.
const DefaultQueueSize = 64

// DeliveryKind tells inserts from deletes.
type DeliveryKind int

const (
	DeliveryInsert DeliveryKind = iota + 1
	DeliveryDelete
)

// Delivery is one event as a subscriber sees it.
type Delivery struct {
	Kind      DeliveryKind
	Message   models.Message
	MessageID uuid.UUID
}

// SignalKind is an out-of-band notice about the feed itself.
type SignalKind int

const (
	// SignalResync means events may have been missed (queue overflow or a
	// reconnect). The subscriber should reload history.
	SignalResync SignalKind = iota + 1
	// SignalFailed means the feed could not be re-established. Err is a
	// TRANSIENT_IO error.
	SignalFailed
)

type Signal struct {
	Kind SignalKind
	Err  error
}

// Options configures a Manager.
type Options struct {
	QueueSize int
	Retry     retry.Config
}

// Manager keeps one broker feed per distinct channel filter and fans it out
// to local subscribers. A feed is opened by its first subscriber and closed
// when the last one leaves.
//
// Why a bounded queue per subscriber?
//   - Each Channel Session consumes its subscription from a single loop. A
//     slow session must not stall the broker goroutine or other sessions.
//     When its queue is full the event is dropped and the session is told
//     to resync instead.
type Manager struct {
	broker  Broker
	opts    Options
	logger  *zap.Logger
	metrics *observ.Metrics

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

func NewManager(broker Broker, opts Options, logger *zap.Logger, metrics *observ.Metrics) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Manager{
		broker:  broker,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		feeds:   make(map[string]*feed),
	}
}

type feed struct {
	filter string
	cancel context.CancelFunc

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	transport Feed
	closed    bool
}

// Subscription is one local subscriber of a channel.
type Subscription struct {
	key     models.ChannelKey
	manager *Manager
	feed    *feed

	events  chan Delivery
	signals chan Signal
	once    sync.Once
	closed  atomic.Bool
}

func (s *Subscription) Key() models.ChannelKey   { return s.key }
func (s *Subscription) Events() <-chan Delivery { return s.events }
func (s *Subscription) Signals() <-chan Signal  { return s.signals }

// Unsubscribe detaches the subscriber. No event is queued for it after
// Unsubscribe returns. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.manager.release(s)
	})
}

// Subscribe attaches a new subscriber to key's feed, opening the feed if it
// is the first one.
func (m *Manager) Subscribe(ctx context.Context, key models.ChannelKey) (*Subscription, error) {
	filter := key.Filter()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, apperr.TransientIO(nil, "realtime manager is closed")
	}

	f, ok := m.feeds[filter]
	if !ok {
		f = &feed{filter: filter, subs: make(map[*Subscription]struct{})}
		transport, err := m.broker.Subscribe(ctx, filter, f.dispatcher(m))
		if err != nil {
			return nil, apperr.TransientIO(err, "subscribe to %s", filter)
		}
		f.transport = transport

		watchCtx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		m.feeds[filter] = f
		m.metrics.FeedOpened()
		go m.watch(watchCtx, f)

		m.logger.Debug("realtime feed opened", zap.String("channel", filter))
	}

	sub := &Subscription{
		key:     key,
		manager: m,
		feed:    f,
		events:  make(chan Delivery, m.opts.QueueSize),
		signals: make(chan Signal, 2),
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	m.metrics.SubscriberAdded()
	return sub, nil
}

func (m *Manager) release(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := s.feed
	f.mu.Lock()
	if _, ok := f.subs[s]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.subs, s)
	remaining := len(f.subs)
	if remaining == 0 {
		f.closed = true
	}
	transport := f.transport
	f.mu.Unlock()
	m.metrics.SubscriberRemoved()

	if remaining > 0 {
		return
	}
	f.cancel()
	if transport != nil {
		if err := transport.Close(); err != nil {
			m.logger.Warn("closing realtime feed", zap.String("channel", f.filter), zap.Error(err))
		}
	}
	// A failed feed has already left the registry.
	if m.feeds[f.filter] == f {
		delete(m.feeds, f.filter)
		m.metrics.FeedClosed()
		m.logger.Debug("realtime feed closed", zap.String("channel", f.filter))
	}
}

// Publish sends ev to every filter an event on key belongs to.
func (m *Manager) Publish(ctx context.Context, key models.ChannelKey, ev Event) error {
	var errs []error
	for _, filter := range models.PublishFilters(key) {
		if err := m.broker.Publish(ctx, filter, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperr.TransientIO(errors.Join(errs...), "publish %s", ev.Type)
	}
	return nil
}

// Subscribers reports how many local subscribers share key's feed.
func (m *Manager) Subscribers(key models.ChannelKey) int {
	m.mu.Lock()
	f, ok := m.feeds[key.Filter()]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// FeedCount is the number of open feeds.
func (m *Manager) FeedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

// Close tears down every feed. Subscribers are left without further events.
func (m *Manager) Close() {
	m.mu.Lock()
	feeds := m.feeds
	m.feeds = make(map[string]*feed)
	m.closed = true
	m.mu.Unlock()

	for _, f := range feeds {
		f.mu.Lock()
		f.closed = true
		transport := f.transport
		f.mu.Unlock()
		f.cancel()
		if transport != nil {
			transport.Close()
		}
		m.metrics.FeedClosed()
	}
}

func (f *feed) dispatcher(m *Manager) func(Event) {
	return func(ev Event) {
		var d Delivery
		switch ev.Type {
		case EventMessageCreated:
			if ev.Message == nil {
				return
			}
			d = Delivery{Kind: DeliveryInsert, Message: *ev.Message, MessageID: ev.Message.ID}
		case EventMessageDeleted:
			d = Delivery{Kind: DeliveryDelete, MessageID: ev.MessageID}
		default:
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return
		}
		for sub := range f.subs {
			if sub.closed.Load() {
				continue
			}
			select {
			case sub.events <- d:
				m.metrics.Delivered(string(ev.Type))
			default:
				m.metrics.Lagged()
				sub.signal(Signal{Kind: SignalResync})
			}
		}
	}
}

func (s *Subscription) signal(sig Signal) {
	select {
	case s.signals <- sig:
	default:
		// A resync is already pending; one is enough.
	}
}

// watch re-establishes the feed whenever the transport drops it.
func (m *Manager) watch(ctx context.Context, f *feed) {
	for {
		f.mu.Lock()
		transport := f.transport
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-transport.Done():
		}

		m.logger.Warn("realtime feed dropped, reconnecting",
			zap.String("channel", f.filter),
			zap.Error(transport.Err()),
		)

		err := retry.Do(ctx, m.opts.Retry, func(attempt int) error {
			next, err := m.broker.Subscribe(ctx, f.filter, f.dispatcher(m))
			if err != nil {
				m.metrics.Reconnect("error")
				m.logger.Debug("realtime resubscribe failed",
					zap.String("channel", f.filter),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			m.metrics.Reconnect("ok")

			f.mu.Lock()
			if f.closed {
				f.mu.Unlock()
				next.Close()
				return nil
			}
			f.transport = next
			f.mu.Unlock()
			return nil
		})
		f.mu.Lock()
		closed := f.closed
		f.mu.Unlock()
		if ctx.Err() != nil || closed {
			return
		}
		if err != nil {
			m.fail(f, err)
			return
		}

		m.logger.Info("realtime feed restored", zap.String("channel", f.filter))
		f.broadcast(Signal{Kind: SignalResync})
	}
}

// fail gives up on a feed: subscribers get SignalFailed and the filter is
// free for a fresh Subscribe.
func (m *Manager) fail(f *feed, cause error) {
	m.logger.Error("realtime feed lost", zap.String("channel", f.filter), zap.Error(cause))

	m.mu.Lock()
	if m.feeds[f.filter] == f {
		delete(m.feeds, f.filter)
		m.metrics.FeedClosed()
	}
	m.mu.Unlock()

	f.broadcast(Signal{Kind: SignalFailed, Err: apperr.TransientIO(cause, "realtime feed %s lost", f.filter)})
}

func (f *feed) broadcast(sig Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.signal(sig)
	}
}
