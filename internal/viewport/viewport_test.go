package viewport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type actions struct {
	mu  sync.Mutex
	all []Action
}

func (a *actions) record(act Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.all = append(a.all, act)
}

func (a *actions) list() []Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Action(nil), a.all...)
}

func (a *actions) scrolls() int {
	n := 0
	for _, act := range a.list() {
		if act.ScrollToBottom {
			n++
		}
	}
	return n
}

func TestPosition_DistanceFromBottom(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want float64
	}{
		{name: "at end", pos: Position{Offset: 600, ViewportHeight: 400, ContentHeight: 1000}, want: 0},
		{name: "above end", pos: Position{Offset: 500, ViewportHeight: 400, ContentHeight: 1000}, want: 100},
		{name: "content shorter than viewport", pos: Position{Offset: 0, ViewportHeight: 400, ContentHeight: 100}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pos.DistanceFromBottom())
		})
	}
}

func TestController_ThresholdBoundary(t *testing.T) {
	c := New(50, 0, func(Action) {})

	c.Scrolled(Position{Offset: 550, ViewportHeight: 400, ContentHeight: 1000})
	assert.True(t, c.NearBottom())

	c.Scrolled(Position{Offset: 549, ViewportHeight: 400, ContentHeight: 1000})
	assert.False(t, c.NearBottom())
}

func TestController_BurstCoalescesIntoOneScroll(t *testing.T) {
	rec := &actions{}
	c := New(50, 0, rec.record)

	for i := 0; i < 5; i++ {
		c.Appended(1)
	}
	assert.Empty(t, rec.list())

	c.Flush()
	c.Flush()
	assert.Equal(t, 1, rec.scrolls())
	assert.True(t, c.NearBottom())
	assert.Equal(t, 0, c.Unread())
}

func TestController_FrameTimerCoalesces(t *testing.T) {
	rec := &actions{}
	c := New(50, 30*time.Millisecond, rec.record)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Appended(1)
	}
	require.Eventually(t, func() bool { return rec.scrolls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.scrolls())
	assert.Len(t, rec.list(), 1)
}

func TestController_ScrollAwayCancelsQueuedScroll(t *testing.T) {
	rec := &actions{}
	c := New(50, 30*time.Millisecond, rec.record)
	defer c.Close()

	c.Appended(1)
	c.Scrolled(Position{Offset: 0, ViewportHeight: 400, ContentHeight: 2000})

	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.NearBottom())
	assert.Equal(t, 0, rec.scrolls())
	assert.Empty(t, rec.list())

	// A manual flush after scrolling away does not scroll either.
	c.Appended(1)
	c.Flush()
	assert.Equal(t, 0, rec.scrolls())
	assert.Equal(t, 1, c.Unread())
}

func TestController_ScrolledAwayShowsIndicator(t *testing.T) {
	rec := &actions{}
	c := New(50, 0, rec.record)

	c.Scrolled(Position{Offset: 0, ViewportHeight: 400, ContentHeight: 2000})
	for i := 0; i < 3; i++ {
		c.Appended(1)
	}
	c.Flush()

	assert.Equal(t, 0, rec.scrolls())
	assert.Equal(t, 3, c.Unread())
	last := rec.list()[len(rec.list())-1]
	assert.True(t, last.ShowIndicator())
	assert.Equal(t, 3, last.Unread)
}

func TestController_ScrollingBackResumes(t *testing.T) {
	rec := &actions{}
	c := New(50, 0, rec.record)

	c.Scrolled(Position{Offset: 0, ViewportHeight: 400, ContentHeight: 2000})
	c.Appended(2)
	c.Scrolled(Position{Offset: 1580, ViewportHeight: 400, ContentHeight: 2000})

	assert.True(t, c.NearBottom())
	assert.Equal(t, 0, c.Unread())
	last := rec.list()[len(rec.list())-1]
	assert.True(t, last.ScrollToBottom)
	assert.False(t, last.ShowIndicator())

	c.Appended(1)
	c.Flush()
	assert.Equal(t, 2, rec.scrolls())
}

func TestController_JumpToLatest(t *testing.T) {
	rec := &actions{}
	c := New(50, 0, rec.record)

	c.Scrolled(Position{Offset: 0, ViewportHeight: 400, ContentHeight: 2000})
	c.Appended(4)
	c.JumpToLatest()

	assert.True(t, c.NearBottom())
	assert.Equal(t, 0, c.Unread())
	assert.Equal(t, 1, rec.scrolls())
}

func TestController_NothingAfterClose(t *testing.T) {
	rec := &actions{}
	c := New(50, 10*time.Millisecond, rec.record)
	c.Appended(1)
	c.Close()

	time.Sleep(30 * time.Millisecond)
	c.Appended(1)
	c.Flush()
	assert.Empty(t, rec.list())
}
