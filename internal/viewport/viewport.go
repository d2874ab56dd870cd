package viewport

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is how close to the end (in the client's scroll
	// units) still counts as "at the bottom".
	DefaultThreshold = 50
	// DefaultFrame is the window in which new-message triggers are
	// coalesced into one scroll.
	DefaultFrame = 16 * time.Millisecond
)

// Position is a scroll report from the client.
type Position struct {
	Offset         float64 `json:"offset"`
	ViewportHeight float64 `json:"viewport_height"`
	ContentHeight  float64 `json:"content_height"`
}

// DistanceFromBottom is how far the visible window ends above the content
// end. Never negative.
func (p Position) DistanceFromBottom() float64 {
	d := p.ContentHeight - (p.Offset + p.ViewportHeight)
	if d < 0 {
		return 0
	}
	return d
}

// Action is what the client must do after a change.
type Action struct {
	ScrollToBottom bool `json:"scroll_to_bottom"`
	// Unread is the number of messages that arrived while scrolled away.
	// The "new messages" affordance is visible while it is non-zero.
	Unread int `json:"unread"`
}

func (a Action) ShowIndicator() bool {
	return a.Unread > 0
}

// Controller decides when the message list auto-scrolls.
//
// While the reader is near the bottom every new message scrolls to the end;
// several messages inside one frame produce a single scroll. Once the
// reader scrolls up, auto-scroll stops and new messages are counted
// instead. Scrolling back near the end, or calling JumpToLatest, resumes.
type Controller struct {
	threshold float64
	frame     time.Duration
	emit      func(Action)

	// emitMu is held while an action is delivered, so Close cannot return
	// in the middle of one.
	emitMu sync.Mutex

	mu         sync.Mutex
	nearBottom bool
	unread     int
	pending    bool
	timer      *time.Timer
	closed     bool
}

// New builds a controller. emit receives every action and must not call
// back into the controller; with frame <= 0 scrolls are only emitted by
// Flush.
func New(threshold float64, frame time.Duration, emit func(Action)) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{
		threshold:  threshold,
		frame:      frame,
		emit:       emit,
		nearBottom: true,
	}
}

func (c *Controller) NearBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nearBottom
}

func (c *Controller) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Scrolled records a position report from the client.
func (c *Controller) Scrolled(p Position) {
	c.mu.Lock()
	wasNear := c.nearBottom
	c.nearBottom = p.DistanceFromBottom() <= c.threshold
	returned := c.nearBottom && !wasNear && !c.closed
	if c.nearBottom {
		c.unread = 0
	} else {
		// A scroll queued for this frame no longer applies.
		c.pending = false
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	}
	c.mu.Unlock()

	// Coming back within the threshold snaps to the end and hides the
	// indicator.
	if returned {
		c.send(Action{ScrollToBottom: true})
	}
}

// Appended records n new messages at the end of the list.
func (c *Controller) Appended(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.nearBottom {
		c.unread += n
		unread := c.unread
		c.mu.Unlock()
		c.send(Action{Unread: unread})
		return
	}

	c.pending = true
	if c.frame > 0 && c.timer == nil {
		c.timer = time.AfterFunc(c.frame, c.Flush)
	}
	c.mu.Unlock()
}

// Reset is called when the list is replaced (load or resync): the view
// jumps to the newest message.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.nearBottom = true
	c.unread = 0
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.send(Action{ScrollToBottom: true})
}

// JumpToLatest is the "new messages" affordance: snap to the end and
// resume auto-scroll.
func (c *Controller) JumpToLatest() {
	c.Reset()
}

// Flush emits the pending scroll, if any. Every trigger since the last
// flush collapses into this one action.
func (c *Controller) Flush() {
	c.mu.Lock()
	c.timer = nil
	if !c.pending || !c.nearBottom || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.mu.Unlock()

	c.send(Action{ScrollToBottom: true})
}

// Close stops the frame timer. Nothing is emitted afterwards.
func (c *Controller) Close() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) send(a Action) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.emit(a)
	}
}
