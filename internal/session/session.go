package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/metadata"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/observ"
	"github.com/lalith-99/arenachat/internal/realtime"
	"github.com/lalith-99/arenachat/internal/repository"
	"github.com/lalith-99/arenachat/internal/retry"
	"github.com/lalith-99/arenachat/internal/store"
	"go.uber.org/zap"
)

// State is where a session is in its lifecycle.
type State int32

const (
	StateClosed State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return "closed"
}

// Entry is a message as rendered: the stored row plus the sender metadata
// it is shown with.
type Entry struct {
	Message models.Message
	Sender  models.SenderMetadata
	// Resolved is false while Sender is the fallback built from the
	// message's name snapshot.
	Resolved bool
}

// DisplayName prefers freshly resolved metadata and falls back to the name
// recorded at send time.
func (e Entry) DisplayName() string {
	if e.Resolved && e.Sender.DisplayName != "" {
		return e.Sender.DisplayName
	}
	return e.Message.SenderDisplayName
}

// Listener receives everything a session renders. Its methods are called
// from the session's loop goroutine, one at a time, and must not call
// Close.
type Listener interface {
	StateChanged(state State)
	// Snapshot replaces the whole list: after the initial load and after a
	// resync.
	Snapshot(entries []Entry)
	Inserted(index int, entry Entry)
	// Patched reports metadata resolved for an entry already shown.
	Patched(index int, entry Entry)
	Deleted(id uuid.UUID)
	Notice(err error)
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Store             *store.Client
	Realtime          *realtime.Manager
	Users             repository.UserRepository
	MetadataCacheSize int
	MetadataTimeout   time.Duration
	Subscribe         retry.Config
	Logger            *zap.Logger
	Metrics           *observ.Metrics
}

type senderResult struct {
	userID uuid.UUID
	md     models.SenderMetadata
	err    error
}

// Session is one open channel: the ordered message list, its live feed and
// the composer.
//
// Every mutation of the list happens on one goroutine (run). Realtime
// deliveries, metadata results and local removals all arrive as channel
// receives on that loop, so no lock is needed for ordering; the mutex only
// lets other goroutines take a consistent copy.
type Session struct {
	deps       Deps
	provider   identity.Provider
	key        models.ChannelKey
	capability models.Capability
	listener   Listener
	meta       *metadata.Resolver
	logger     *zap.Logger

	state atomic.Int32

	mu      sync.RWMutex
	entries []Entry
	// loaded is set once a history fetch has succeeded. Only the run
	// goroutine touches it.
	loaded bool

	pending  map[uuid.UUID]bool
	sub      *realtime.Subscription
	resolved chan senderResult
	removals chan uuid.UUID

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts a session in the Loading state and returns immediately.
// History loads in the background; the listener hears StateReady when the
// list is live.
func Open(deps Deps, p identity.Provider, key models.ChannelKey, capability models.Capability, listener Listener) (*Session, error) {
	if !capability.CanRead {
		return nil, apperr.Authorization("not allowed to read %s", key.Filter())
	}
	meta, err := metadata.New(deps.Users, deps.MetadataCacheSize, deps.MetadataTimeout, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	if deps.Subscribe.Multiplier == 0 {
		deps.Subscribe = retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:       deps,
		provider:   p,
		key:        key,
		capability: capability,
		listener:   listener,
		meta:       meta,
		logger:     deps.Logger.With(zap.String("channel", key.Filter())),
		pending:    make(map[uuid.UUID]bool),
		resolved:   make(chan senderResult, 16),
		removals:   make(chan uuid.UUID, 16),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(StateLoading))
	deps.Metrics.SessionOpened()

	go s.run(ctx)
	return s, nil
}

func (s *Session) Key() models.ChannelKey          { return s.key }
func (s *Session) Capability() models.Capability { return s.capability }
func (s *Session) State() State                  { return State(s.state.Load()) }

// Entries returns a copy of the current list.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Close cancels any in-flight fetch, unsubscribes and discards the list.
// When Close returns no listener method is running or will run again.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.mu.Lock()
		s.entries = nil
		s.mu.Unlock()
		s.state.Store(int32(StateClosed))
		s.deps.Metrics.SessionClosed()
	})
}

// Send inserts a message. The list is not touched: the message appears when
// its realtime echo arrives, like everyone else's.
func (s *Session) Send(ctx context.Context, body string) (*models.Message, error) {
	if _, err := store.ValidateBody(body); err != nil {
		return nil, err
	}
	if s.State() == StateClosed {
		return nil, apperr.Validation("channel is closed")
	}
	if !s.capability.CanWrite {
		return nil, apperr.Authorization("channel is read-only")
	}
	return s.deps.Store.Insert(ctx, s.provider, s.key, body)
}

// Delete removes a message. On success the local copy is dropped even if
// the realtime echo is late.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) error {
	if s.State() == StateClosed {
		return apperr.Validation("channel is closed")
	}
	if err := s.deps.Store.Delete(ctx, s.provider, id); err != nil {
		return err
	}
	select {
	case s.removals <- id:
	case <-s.done:
	}
	return nil
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	s.listener.StateChanged(state)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
	}()

	s.listener.StateChanged(StateLoading)

	// Subscribe before fetching so nothing published during the fetch is
	// lost; those events wait in the queue and are merged after the load.
	s.subscribe(ctx)
	if !s.reload(ctx) {
		return
	}
	s.setState(StateReady)

	for {
		var (
			events  <-chan realtime.Delivery
			signals <-chan realtime.Signal
		)
		if s.sub != nil {
			events = s.sub.Events()
			signals = s.sub.Signals()
		}

		select {
		case <-ctx.Done():
			return
		case d := <-events:
			s.apply(d, true)
		case sig := <-signals:
			if !s.handleSignal(ctx, sig) {
				return
			}
		case r := <-s.resolved:
			s.patch(r)
		case id := <-s.removals:
			s.remove(id, true)
		}
	}
}

func (s *Session) subscribe(ctx context.Context) {
	err := retry.Do(ctx, s.deps.Subscribe, func(int) error {
		sub, err := s.deps.Realtime.Subscribe(ctx, s.key)
		if err != nil {
			return err
		}
		s.sub = sub
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("live updates unavailable", zap.Error(err))
		s.listener.Notice(apperr.TransientIO(err, "live updates unavailable"))
	}
}

func (s *Session) handleSignal(ctx context.Context, sig realtime.Signal) bool {
	switch sig.Kind {
	case realtime.SignalResync:
		s.logger.Info("resyncing channel")
		return s.reload(ctx)
	case realtime.SignalFailed:
		s.listener.Notice(sig.Err)
		s.sub.Unsubscribe()
		s.sub = nil
		s.subscribe(ctx)
		return s.reload(ctx)
	}
	return true
}

// reload replaces the list with fresh history, then applies whatever the
// feed queued meanwhile. When the fetch fails after an earlier success the
// current list is kept. It reports false when the session was cancelled.
func (s *Session) reload(ctx context.Context) bool {
	history, err := s.deps.Store.FetchHistory(ctx, s.provider, s.key)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		s.logger.Warn("history fetch failed", zap.Error(err), zap.Bool("resync", s.loaded))
		s.listener.Notice(err)
		if s.loaded {
			// A failed resync keeps what is on screen; queued events
			// still apply on top of it.
			s.drainQueued()
			s.listener.Snapshot(s.Entries())
			return true
		}
		history = nil
	} else {
		s.loaded = true
	}

	entries := make([]Entry, 0, len(history))
	seen := make(map[uuid.UUID]bool, len(history))
	for _, m := range history {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		entries = append(entries, s.entryFor(m))
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.drainQueued()

	s.listener.Snapshot(s.Entries())
	return true
}

// drainQueued applies queued deliveries without emitting them; the
// Snapshot that follows carries the result.
func (s *Session) drainQueued() {
	if s.sub == nil {
		return
	}
	for {
		select {
		case d := <-s.sub.Events():
			s.apply(d, false)
		default:
			return
		}
	}
}

func (s *Session) apply(d realtime.Delivery, emit bool) {
	switch d.Kind {
	case realtime.DeliveryInsert:
		s.insert(d.Message, emit)
	case realtime.DeliveryDelete:
		s.remove(d.MessageID, emit)
	}
}

// insert places m by created_at (ties by id). Live inserts and history use
// the same order, so two messages sent at once land where a reload would
// put them.
func (s *Session) insert(m models.Message, emit bool) {
	if !models.Contains(s.key, m.Key) {
		return
	}

	s.mu.Lock()
	for _, e := range s.entries {
		if e.Message.ID == m.ID {
			// At-least-once delivery.
			s.mu.Unlock()
			return
		}
	}
	idx := sort.Search(len(s.entries), func(i int) bool {
		return m.Before(s.entries[i].Message)
	})
	entry := s.entryFor(m)
	s.entries = append(s.entries, Entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry
	s.mu.Unlock()

	if emit {
		s.listener.Inserted(idx, entry)
	}
}

func (s *Session) remove(id uuid.UUID, emit bool) {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.Message.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.mu.Unlock()

	if emit {
		s.listener.Deleted(id)
	}
}

// entryFor builds the entry from the cache, or from the snapshot while a
// lookup is started.
func (s *Session) entryFor(m models.Message) Entry {
	if md, ok := s.meta.Cached(m.SenderID); ok {
		return Entry{Message: m, Sender: md, Resolved: true}
	}
	s.lookup(m.SenderID)
	return Entry{Message: m, Sender: metadata.Fallback(m)}
}

func (s *Session) lookup(userID uuid.UUID) {
	if s.pending[userID] {
		return
	}
	s.pending[userID] = true

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		md, err := s.meta.Resolve(ctx, userID)
		select {
		case s.resolved <- senderResult{userID: userID, md: md, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Session) patch(r senderResult) {
	delete(s.pending, r.userID)
	if r.err != nil {
		// The snapshot name stays; the message is never dropped.
		s.logger.Debug("sender lookup failed, keeping snapshot",
			zap.String("sender_id", r.userID.String()),
			zap.Error(r.err),
		)
		return
	}

	type change struct {
		index int
		entry Entry
	}
	var changes []change

	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].Message.SenderID == r.userID && !s.entries[i].Resolved {
			s.entries[i].Sender = r.md
			s.entries[i].Resolved = true
			changes = append(changes, change{index: i, entry: s.entries[i]})
		}
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.listener.Patched(c.index, c.entry)
	}
}
