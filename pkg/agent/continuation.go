package agent

import (
	"sync"
	"time"
)

// continuation is the window after a committed turn in which more speech
// from the same participant extends that turn instead of starting a new
// one. The window closes early once the reply is audible.
type continuation struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	active   bool
	identity string
	expires  time.Time
}

func newContinuation(window time.Duration) *continuation {
	return &continuation{window: window, now: time.Now}
}

// start opens the window for identity's turn. A zero window disables
// continuation.
func (c *continuation) start(identity string) {
	if c.window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.identity = identity
	c.expires = c.now().Add(c.window)
}

// take reports whether a turn from identity continues the open window. The
// window is closed either way.
func (c *continuation) take(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	c.active = false
	return c.identity == identity && c.now().Before(c.expires)
}

func (c *continuation) cancel() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}
