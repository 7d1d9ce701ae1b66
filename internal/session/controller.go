// Package session holds the shared session state: whether a session is
// active and when it started.
package session

import (
	"sync"
	"time"
)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) func(*Controller) {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller is the single source of truth for session activity. The start
// time is captured exactly once per inactive to active transition and every
// awaiter of that transition observes the same value.
type Controller struct {
	now func() time.Time

	mu        sync.Mutex
	cond      *sync.Cond
	active    bool
	startTime time.Time
	done      chan struct{}
}

// New returns an inactive controller.
func New(options ...func(*Controller)) *Controller {
	c := Controller{now: time.Now}
	c.cond = sync.NewCond(&c.mu)

	// closed while inactive
	c.done = make(chan struct{})
	close(c.done)

	for _, option := range options {
		option(&c)
	}

	return &c
}

// SetActive changes the session state. Setting the current state again is a
// no-op and in particular does not move the start time.
func (c *Controller) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == active {
		return
	}

	c.active = active
	if active {
		c.startTime = c.now()
		c.done = make(chan struct{})
	} else {
		close(c.done)
	}

	c.cond.Broadcast()
}

// IsActive reports whether a session is running.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// AwaitActive blocks until a session is active and returns its start time.
func (c *Controller) AwaitActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.active {
		c.cond.Wait()
	}
	return c.startTime
}

// StartTime returns the start of the current session, or of the last one if
// no session is active. It is the zero time before the first session.
func (c *Controller) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

// Current returns a consistent snapshot of the active flag, the start time
// and the channel that is closed when the current session ends.
func (c *Controller) Current() (active bool, start time.Time, done <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.startTime, c.done
}
