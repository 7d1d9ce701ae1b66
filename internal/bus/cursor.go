package bus

import (
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// Cursor is a subscriber's private read position into the channel. It keeps
// a circular buffer of pending readings in publish order.
type Cursor struct {
	id      uint64
	channel *Channel

	mu   sync.Mutex
	buf  []sensor.TimedReading
	head int
	size int

	dropped atomic.Uint64

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newCursor(ch *Channel, id uint64, capacity int) *Cursor {
	return &Cursor{
		id:      id,
		channel: ch,
		buf:     make([]sensor.TimedReading, capacity),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// push appends r and reports whether a reading was lost to overflow.
func (c *Cursor) push(r sensor.TimedReading, policy OverflowPolicy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped bool
	if c.size == len(c.buf) {
		dropped = true
		c.dropped.Add(1)

		if policy == DropNewest {
			return true
		}

		// evict the oldest
		c.buf[c.head] = sensor.TimedReading{}
		c.head = (c.head + 1) % len(c.buf)
		c.size--
	}

	c.buf[(c.head+c.size)%len(c.buf)] = r
	c.size++

	select {
	case c.ready <- struct{}{}:
	default:
	}

	return dropped
}

// Drain returns every buffered reading, oldest first, and empties the
// buffer. It never blocks and returns nil when nothing is pending.
func (c *Cursor) Drain() []sensor.TimedReading {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size == 0 {
		return nil
	}

	out := make([]sensor.TimedReading, c.size)
	for i := range out {
		idx := (c.head + i) % len(c.buf)
		out[i] = c.buf[idx]
		c.buf[idx] = sensor.TimedReading{}
	}

	c.head = 0
	c.size = 0
	return out
}

// Pending returns the number of buffered readings.
func (c *Cursor) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Dropped returns the number of readings this cursor lost to overflow.
func (c *Cursor) Dropped() uint64 {
	return c.dropped.Load()
}

// Ready is signalled after a publish leaves readings pending. A single
// signal may stand for many readings.
func (c *Cursor) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed once the cursor is closed or the channel is torn down.
func (c *Cursor) Done() <-chan struct{} {
	return c.done
}

// Close unsubscribes the cursor. Buffered readings stay drainable.
func (c *Cursor) Close() {
	c.channel.unsubscribe(c.id)
	c.finish()
}

func (c *Cursor) finish() {
	c.once.Do(func() {
		close(c.done)
	})
}
