// Package bus implements the fan-out channel that carries sensor readings
// from the polling loops to every consumer.
//
// Each subscriber owns a bounded cursor. Publishing never blocks: when a
// cursor is full the overflow policy decides which reading that cursor loses,
// and the loss is counted. Other cursors are unaffected.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// DefaultCapacity is the per-cursor buffer size.
const DefaultCapacity = 32

// ErrClosed is returned when publishing to or subscribing on a closed channel.
var ErrClosed = errors.New("sensor channel closed")

const (
	// DropOldest evicts the oldest buffered reading to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the reading being published.
	DropNewest
)

// OverflowPolicy selects which reading a full cursor loses.
type OverflowPolicy uint8

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", uint8(p))
	}
}

// ParseOverflowPolicy parses "drop-oldest" or "drop-newest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy '%s'", s)
	}
}

// Observer receives channel events, typically to export them as metrics.
type Observer interface {
	ObservePublish(kind sensor.Kind)
	ObserveDrop(kind sensor.Kind)
}

// WithCapacity sets the buffer size of every cursor created afterwards.
func WithCapacity(capacity int) func(*Channel) {
	return func(c *Channel) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// WithOverflowPolicy sets the policy applied to full cursors.
func WithOverflowPolicy(policy OverflowPolicy) func(*Channel) {
	return func(c *Channel) {
		c.policy = policy
	}
}

// WithObserver attaches an observer notified of publishes and drops.
func WithObserver(o Observer) func(*Channel) {
	return func(c *Channel) {
		c.observer = o
	}
}

// Channel is a multi-producer, multi-consumer fan-out bus.
type Channel struct {
	capacity int
	policy   OverflowPolicy
	observer Observer

	mu      sync.RWMutex
	cursors map[uint64]*Cursor
	nextID  uint64
	closed  bool
}

// New creates an open channel with DefaultCapacity and DropOldest.
func New(options ...func(*Channel)) *Channel {
	c := Channel{
		capacity: DefaultCapacity,
		policy:   DropOldest,
		cursors:  make(map[uint64]*Cursor),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Subscribe creates an independent cursor that receives every reading
// published from now on.
func (c *Channel) Subscribe() (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	cur := newCursor(c, c.nextID, c.capacity)
	c.cursors[cur.id] = cur

	return cur, nil
}

// Publish delivers r to every current cursor. It never blocks on a slow
// cursor and only fails when the channel has been closed.
func (c *Channel) Publish(r sensor.TimedReading) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	kind := r.Kind()
	for _, cur := range c.cursors {
		if dropped := cur.push(r, c.policy); dropped && c.observer != nil {
			c.observer.ObserveDrop(kind)
		}
	}

	if c.observer != nil {
		c.observer.ObservePublish(kind)
	}
	return nil
}

// Subscribers returns the number of open cursors.
func (c *Channel) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cursors)
}

// Capacity returns the per-cursor buffer size.
func (c *Channel) Capacity() int {
	return c.capacity
}

// Close tears the channel down. Publishers receive ErrClosed from now on and
// every cursor's Done channel is closed. Buffered readings stay drainable.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for id, cur := range c.cursors {
		cur.finish()
		delete(c.cursors, id)
	}
}

func (c *Channel) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, id)
}
