package mux

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/apperr"
	"github.com/lalith-99/arenachat/internal/identity"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/session"
	"github.com/lalith-99/arenachat/internal/viewport"
	"go.uber.org/zap"
)

// Sink receives every frame of a Multiplexer. It is called from session
// loops and viewport timers, so it must be safe for concurrent use and must
// not call back into the Multiplexer.
type Sink interface {
	Emit(f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

func (fn SinkFunc) Emit(f Frame) { fn(f) }

type Options struct {
	NearBottomThreshold float64
	// ScrollFrame is the coalescing window for auto-scroll. Zero means
	// viewport.DefaultFrame.
	ScrollFrame time.Duration
}

// Multiplexer is one client's set of channel tabs. Exactly one tab is
// active at a time; opening another closes the previous session first.
//
// Why a generation number on every frame?
//   - Session.Close guarantees that a closed tab emits nothing more, but a
//     frame already sitting in a client's socket buffer can still arrive
//     after the switch. The tab id lets the client discard it.
type Multiplexer struct {
	provider identity.Provider
	resolver *resolver.Resolver
	deps     session.Deps
	sink     Sink
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	gen    uint64
	active *tab
	closed bool
}

type tab struct {
	id         uint64
	resolution *resolver.Resolution
	session    *session.Session
	viewport   *viewport.Controller
}

func New(p identity.Provider, res *resolver.Resolver, deps session.Deps, sink Sink, opts Options) *Multiplexer {
	if opts.NearBottomThreshold <= 0 {
		opts.NearBottomThreshold = viewport.DefaultThreshold
	}
	if opts.ScrollFrame <= 0 {
		opts.ScrollFrame = viewport.DefaultFrame
	}
	return &Multiplexer{
		provider: p,
		resolver: res,
		deps:     deps,
		sink:     sink,
		opts:     opts,
		logger:   deps.Logger.With(zap.String("user_id", p.CurrentUserID().String())),
	}
}

// Open makes req the active tab. The previous tab's session is closed
// (fetch cancelled, feed released) before anything about the new channel
// is fetched.
func (m *Multiplexer) Open(ctx context.Context, req resolver.Request) (*resolver.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperr.Validation("connection is closed")
	}

	m.closeActiveLocked()
	m.gen++
	id := m.gen

	res, err := m.resolver.Resolve(ctx, m.provider, req)
	if err != nil {
		return nil, err
	}
	t := &tab{id: id, resolution: res}
	m.active = t

	if res.Key == nil || !res.Capability.CanRead {
		m.sink.Emit(Frame{
			Type:       FrameLocked,
			Tab:        id,
			Kind:       req.Kind,
			Capability: capabilityView(res.Capability),
			Peers:      res.Peers,
		})
		return res, nil
	}

	m.sink.Emit(Frame{
		Type:       FrameOpened,
		Tab:        id,
		Channel:    res.Key.Filter(),
		Kind:       res.Key.Kind(),
		Capability: capabilityView(res.Capability),
		Peers:      res.Peers,
	})

	l := &listener{sink: m.sink, tab: id, capability: res.Capability}
	t.viewport = viewport.New(m.opts.NearBottomThreshold, m.opts.ScrollFrame, l.scroll)
	l.viewport = t.viewport

	s, err := session.Open(m.deps, m.provider, res.Key, res.Capability, l)
	if err != nil {
		t.viewport.Close()
		m.active = nil
		return nil, err
	}
	t.session = s

	m.logger.Debug("tab opened",
		zap.Uint64("tab", id),
		zap.String("channel", res.Key.Filter()),
		zap.Bool("can_write", res.Capability.CanWrite),
	)
	return res, nil
}

// Active returns the resolution of the current tab, or nil.
func (m *Multiplexer) Active() *resolver.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.resolution
}

// Send posts body to the active channel. The message is rendered when its
// echo arrives.
func (m *Multiplexer) Send(ctx context.Context, body string) (*models.Message, error) {
	t, err := m.current()
	if err != nil {
		return nil, err
	}
	return t.session.Send(ctx, body)
}

// Delete removes a message from the active channel.
func (m *Multiplexer) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	return t.session.Delete(ctx, id)
}

// Scroll forwards a scroll report to the active tab's viewport.
func (m *Multiplexer) Scroll(p viewport.Position) {
	if t, err := m.current(); err == nil {
		t.viewport.Scrolled(p)
	}
}

// JumpToLatest is the "new messages" affordance of the active tab.
func (m *Multiplexer) JumpToLatest() {
	if t, err := m.current(); err == nil {
		t.viewport.JumpToLatest()
	}
}

// CloseTab closes the active tab and leaves none open.
func (m *Multiplexer) CloseTab() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeActiveLocked()
}

// Close closes the active tab. The Multiplexer cannot be reused.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeActiveLocked()
	m.closed = true
}

func (m *Multiplexer) current() (*tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, apperr.Validation("no channel is open")
	}
	if m.active.session == nil {
		return nil, apperr.Authorization("channel is locked")
	}
	return m.active, nil
}

func (m *Multiplexer) closeActiveLocked() {
	t := m.active
	if t == nil {
		return
	}
	m.active = nil
	if t.session != nil {
		t.session.Close()
	}
	if t.viewport != nil {
		t.viewport.Close()
	}
	m.logger.Debug("tab closed", zap.Uint64("tab", t.id))
}

// listener turns session callbacks into frames for one tab.
type listener struct {
	sink       Sink
	tab        uint64
	capability models.Capability
	viewport   *viewport.Controller
}

func (l *listener) StateChanged(state session.State) {
	l.sink.Emit(Frame{Type: FrameState, Tab: l.tab, State: state.String()})
}

func (l *listener) Snapshot(entries []session.Entry) {
	views := make([]EntryView, len(entries))
	for i, e := range entries {
		views[i] = entryView(e, l.capability)
	}
	l.sink.Emit(Frame{Type: FrameSnapshot, Tab: l.tab, Entries: views})
	l.viewport.Reset()
}

func (l *listener) Inserted(index int, entry session.Entry) {
	v := entryView(entry, l.capability)
	l.sink.Emit(Frame{Type: FrameMessage, Tab: l.tab, Index: index, Entry: &v})
	l.viewport.Appended(1)
}

func (l *listener) Patched(index int, entry session.Entry) {
	v := entryView(entry, l.capability)
	l.sink.Emit(Frame{Type: FramePatched, Tab: l.tab, Index: index, Entry: &v})
}

func (l *listener) Deleted(id uuid.UUID) {
	l.sink.Emit(Frame{Type: FrameDeleted, Tab: l.tab, MessageID: &id})
}

func (l *listener) Notice(err error) {
	f := noticeFrame(err)
	f.Tab = l.tab
	l.sink.Emit(f)
}

func (l *listener) scroll(a viewport.Action) {
	typ := FrameScroll
	if !a.ScrollToBottom {
		typ = FrameUnread
	}
	l.sink.Emit(Frame{Type: typ, Tab: l.tab, Scroll: &a})
}
