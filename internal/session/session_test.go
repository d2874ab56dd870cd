package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/realtime"
	"github.com/lalith-99/arenachat/internal/repository/memory"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/retry"
	"github.com/lalith-99/arenachat/internal/store"
	"github.com/lalith-99/arenachat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder mirrors what a client would render from the listener calls.
type recorder struct {
	mu        sync.Mutex
	states    []State
	snapshots int
	entries   []Entry
	notices   []error
	calls     int
}

func (r *recorder) StateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.states = append(r.states, s)
}

func (r *recorder) Snapshot(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.snapshots++
	r.entries = append([]Entry(nil), entries...)
}

func (r *recorder) Inserted(index int, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.entries = append(r.entries, Entry{})
	copy(r.entries[index+1:], r.entries[index:])
	r.entries[index] = e
}

func (r *recorder) Patched(index int, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.entries[index] = e
}

func (r *recorder) Deleted(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for i, e := range r.entries {
		if e.Message.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *recorder) Notice(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.notices = append(r.notices, err)
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message.Body
	}
	return out
}

func (r *recorder) snapshot() (int, []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, append([]Entry(nil), r.entries...)
}

func (r *recorder) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateClosed
	}
	return r.states[len(r.states)-1]
}

// gatedPublisher holds publishes while closed, simulating a slow echo.
type gatedPublisher struct {
	next store.Publisher

	mu     sync.Mutex
	held   bool
	queued []func()
}

func (g *gatedPublisher) Publish(ctx context.Context, key models.ChannelKey, ev realtime.Event) error {
	g.mu.Lock()
	if g.held {
		g.queued = append(g.queued, func() { g.next.Publish(context.Background(), key, ev) })
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return g.next.Publish(ctx, key, ev)
}

func (g *gatedPublisher) hold() {
	g.mu.Lock()
	g.held = true
	g.mu.Unlock()
}

func (g *gatedPublisher) release() {
	g.mu.Lock()
	queued := g.queued
	g.queued = nil
	g.held = false
	g.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

type fixture struct {
	world     *testutil.World
	broker    *realtime.LocalBroker
	manager   *realtime.Manager
	publisher *gatedPublisher
	resolver  *resolver.Resolver
	store     *store.Client
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := testutil.NewWorld()
	broker := realtime.NewLocalBroker()
	manager := realtime.NewManager(broker, realtime.Options{
		Retry: retry.Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2},
	}, zap.NewNop(), nil)
	t.Cleanup(manager.Close)

	pub := &gatedPublisher{next: manager}
	res := resolver.New(zap.NewNop())
	client := store.New(w.Messages, res, pub, 0, zap.NewNop(), nil)
	return &fixture{
		world:     w,
		broker:    broker,
		manager:   manager,
		publisher: pub,
		resolver:  res,
		store:     client,
		deps: Deps{
			Store:           client,
			Realtime:        manager,
			Users:           w.Dir,
			MetadataTimeout: time.Second,
			Logger:          zap.NewNop(),
		},
	}
}

func (f *fixture) open(t *testing.T, user uuid.UUID, key models.ChannelKey) (*Session, *recorder) {
	t.Helper()
	p := f.world.Provider(user, false)
	capability := f.resolver.CapabilityFor(context.Background(), p, key)
	rec := &recorder{}
	s, err := Open(f.deps, p, key, capability, rec)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.Eventually(t, func() bool { return rec.lastState() == StateReady }, time.Second, time.Millisecond)
	return s, rec
}

func (f *fixture) insert(t *testing.T, user uuid.UUID, key models.ChannelKey, body string) *models.Message {
	t.Helper()
	msg, err := f.store.Insert(context.Background(), f.world.Provider(user, false), key, body)
	require.NoError(t, err)
	return msg
}

func TestSession_LoadsHistoryThenGoesLive(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	f.insert(t, f.world.Registrant, key, "first")
	f.insert(t, f.world.CaptainX, key, "second")

	s, rec := f.open(t, f.world.CaptainY, key)
	assert.Equal(t, []string{"first", "second"}, rec.bodies())
	assert.Equal(t, []State{StateLoading, StateReady}, rec.states)
	assert.Equal(t, StateReady, s.State())

	f.insert(t, f.world.MemberX, key, "third")
	require.Eventually(t, func() bool {
		return len(rec.bodies()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, "third", rec.bodies()[2])
}

func TestSession_MetadataPatchedInPlace(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	f.insert(t, f.world.Registrant, key, "hi")

	s, rec := f.open(t, f.world.CaptainX, key)
	require.Eventually(t, func() bool {
		_, entries := rec.snapshot()
		return len(entries) == 1 && entries[0].Resolved
	}, time.Second, time.Millisecond)

	_, entries := rec.snapshot()
	assert.Equal(t, "Rita", entries[0].DisplayName())
	assert.Equal(t, "avatars/Rita.png", entries[0].Sender.AvatarRef)
	assert.Equal(t, entries, s.Entries())
}

type failingUsers struct{}

func (failingUsers) GetSenderMetadata(context.Context, uuid.UUID) (*models.SenderMetadata, error) {
	return nil, errors.New("lookup down")
}

func TestSession_MetadataFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.deps.Users = failingUsers{}
	key := models.EventKey{EventID: f.world.EventID}
	f.insert(t, f.world.Registrant, key, "still here")

	_, rec := f.open(t, f.world.CaptainX, key)
	time.Sleep(20 * time.Millisecond)

	_, entries := rec.snapshot()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Resolved)
	assert.Equal(t, "Rita", entries[0].DisplayName())
	assert.Equal(t, "avatar:placeholder", entries[0].Sender.AvatarRef)
}

func TestSession_DoubleSendWithSlowEcho(t *testing.T) {
	f := newFixture(t)
	key := f.world.PrivateKey()
	s, rec := f.open(t, f.world.CaptainX, key)

	f.publisher.hold()
	first, err := s.Send(context.Background(), "gg")
	require.NoError(t, err)
	second, err := s.Send(context.Background(), "gg")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// No optimistic copy: nothing renders until the echo.
	assert.Empty(t, rec.bodies())

	f.publisher.release()
	require.Eventually(t, func() bool { return len(rec.bodies()) == 2 }, time.Second, time.Millisecond)

	// A redelivered echo does not duplicate the row.
	require.NoError(t, f.manager.Publish(context.Background(), key, realtime.Created(*first)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"gg", "gg"}, rec.bodies())
	assert.Len(t, s.Entries(), 2)
}

func TestSession_DeleteReachesEverySession(t *testing.T) {
	f := newFixture(t)
	key := models.MatchKey{Match: f.world.Match}
	msg := f.insert(t, f.world.MemberX, key, "oops")

	author, recA := f.open(t, f.world.MemberX, key)
	_, recB := f.open(t, f.world.CaptainY, key)
	require.Len(t, recA.bodies(), 1)
	require.Len(t, recB.bodies(), 1)
	assert.Equal(t, 1, f.manager.FeedCount())
	assert.Equal(t, 2, f.manager.Subscribers(key))

	require.NoError(t, author.Delete(context.Background(), msg.ID))

	for _, rec := range []*recorder{recA, recB} {
		require.Eventually(t, func() bool { return len(rec.bodies()) == 0 }, 100*time.Millisecond, time.Millisecond)
	}
}

func TestSession_LiveInsertsSortedByCreatedAt(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	_, rec := f.open(t, f.world.Registrant, key)

	base := time.Now().UTC()
	later := models.Message{ID: uuid.New(), Key: key, SenderID: f.world.CaptainX, SenderDisplayName: "Xavier", Body: "later", CreatedAt: base.Add(time.Second)}
	earlier := models.Message{ID: uuid.New(), Key: key, SenderID: f.world.CaptainY, SenderDisplayName: "Yasmin", Body: "earlier", CreatedAt: base}

	ctx := context.Background()
	require.NoError(t, f.manager.Publish(ctx, key, realtime.Created(later)))
	require.NoError(t, f.manager.Publish(ctx, key, realtime.Created(earlier)))

	require.Eventually(t, func() bool { return len(rec.bodies()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"earlier", "later"}, rec.bodies())
}

func TestSession_IgnoresEventsOfOtherChannels(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	_, rec := f.open(t, f.world.Registrant, key)

	stray := models.Message{ID: uuid.New(), Key: models.EventKey{EventID: uuid.New()}, Body: "stray", CreatedAt: time.Now()}
	require.NoError(t, f.manager.Publish(context.Background(), key, realtime.Created(stray)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.bodies())
}

func TestSession_NoCallbacksAfterClose(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	s, rec := f.open(t, f.world.Registrant, key)

	s.Close()
	calls, _ := rec.snapshot()
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Entries())
	assert.Equal(t, 0, f.manager.FeedCount())

	for i := 0; i < 5; i++ {
		f.insert(t, f.world.CaptainX, key, "after close")
	}
	time.Sleep(20 * time.Millisecond)
	after, _ := rec.snapshot()
	assert.Equal(t, calls, after)
}

func TestSession_ResyncsAfterReconnect(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}
	_, rec := f.open(t, f.world.Registrant, key)
	require.Equal(t, 1, rec.snapshots)

	f.broker.SetOffline(true)
	f.broker.Disconnect()

	// Written while the feed is down: the publish is lost.
	f.insert(t, f.world.CaptainX, key, "missed live")
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.bodies())

	f.broker.SetOffline(false)
	require.Eventually(t, func() bool {
		return len(rec.bodies()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "missed live", rec.bodies()[0])
	assert.GreaterOrEqual(t, rec.snapshots, 2)
}

// flakyHistory fails ListRecent while down is set.
type flakyHistory struct {
	*memory.MessageStore
	down  atomic.Bool
	fails atomic.Int32
}

func (h *flakyHistory) ListRecent(ctx context.Context, key models.ChannelKey, limit int) ([]models.Message, error) {
	if h.down.Load() {
		h.fails.Add(1)
		return nil, errors.New("connection refused")
	}
	return h.MessageStore.ListRecent(ctx, key, limit)
}

func TestSession_FailedResyncKeepsEntries(t *testing.T) {
	f := newFixture(t)
	history := &flakyHistory{MessageStore: f.world.Messages}
	f.store = store.New(history, f.resolver, f.publisher, 0, zap.NewNop(), nil)
	f.deps.Store = f.store

	key := models.EventKey{EventID: f.world.EventID}
	f.insert(t, f.world.Registrant, key, "one")
	f.insert(t, f.world.CaptainX, key, "two")
	s, rec := f.open(t, f.world.Registrant, key)
	require.Equal(t, []string{"one", "two"}, rec.bodies())

	history.down.Store(true)
	f.broker.Disconnect()

	require.Eventually(t, func() bool { return history.fails.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, err := range rec.notices {
			if apperr.Is(err, apperr.KindTransientIO) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, rec.bodies())
	assert.Len(t, s.Entries(), 2)

	// The feed is back; live messages keep arriving on top of the kept list.
	history.down.Store(false)
	f.insert(t, f.world.MemberX, key, "three")
	require.Eventually(t, func() bool {
		return len(rec.bodies()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, rec.bodies())
}

func TestSession_FirstLoadFailureStartsEmpty(t *testing.T) {
	f := newFixture(t)
	history := &flakyHistory{MessageStore: f.world.Messages}
	history.down.Store(true)
	f.store = store.New(history, f.resolver, f.publisher, 0, zap.NewNop(), nil)
	f.deps.Store = f.store

	key := models.EventKey{EventID: f.world.EventID}
	f.insert(t, f.world.Registrant, key, "unreachable")
	_, rec := f.open(t, f.world.Registrant, key)

	assert.Empty(t, rec.bodies())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.snapshots)
	require.NotEmpty(t, rec.notices)
	assert.True(t, apperr.Is(rec.notices[0], apperr.KindTransientIO))
}

func TestSession_ReadOnlyAndLockedChannels(t *testing.T) {
	f := newFixture(t)
	key := models.EventKey{EventID: f.world.EventID}

	// Unregistered: history renders, composer is locked.
	s, _ := f.open(t, f.world.Outsider, key)
	assert.True(t, s.Capability().Locked())
	_, err := s.Send(context.Background(), "let me in")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	// No read access: the session never opens.
	p := f.world.Provider(f.world.Registrant, false)
	private := f.world.PrivateKey()
	_, err = Open(f.deps, p, private, f.resolver.CapabilityFor(context.Background(), p, private), &recorder{})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
}

func TestSession_SendValidatesLocally(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t, f.world.Registrant, models.EventKey{EventID: f.world.EventID})

	_, err := s.Send(context.Background(), "   ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
