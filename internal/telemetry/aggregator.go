package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

var _ Provider = (*Aggregator)(nil)

func WithLogger(logger *slog.Logger) func(*Aggregator) {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithClock sets the time source used to stamp updates.
func WithClock(now func() time.Time) func(*Aggregator) {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator keeps the most recent reading of every sensor kind and a merged
// Telemetry view built from the valid ones.
type Aggregator struct {
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	latest    map[sensor.Kind]sensor.TimedReading
	telemetry Telemetry
	updated   bool
}

func NewAggregator(options ...func(*Aggregator)) *Aggregator {
	a := Aggregator{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		latest: make(map[sensor.Kind]sensor.TimedReading),
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Update records r as the latest reading of its kind.
func (a *Aggregator) Update(r sensor.TimedReading) {
	if r.Reading == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.latest[r.Kind()] = r
	if a.telemetry.apply(r.Reading) {
		a.telemetry.Timestamp = a.now()
		a.telemetry.SessionTime = r.Timestamp.Milliseconds()
		a.updated = true
	}
}

// Get returns a copy of the merged telemetry, or nil before the first valid
// reading.
func (a *Aggregator) Get() *Telemetry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.updated {
		return nil
	}

	t := a.telemetry
	return &t
}

// Latest returns the most recent reading of the given kind, valid or not.
func (a *Aggregator) Latest(kind sensor.Kind) (sensor.TimedReading, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.latest[kind]
	return r, ok
}

// Run drains cursor into the aggregator until ctx is cancelled or the cursor
// is closed.
func (a *Aggregator) Run(ctx context.Context, cursor *bus.Cursor) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-cursor.Done():
			a.drain(cursor)
			a.logger.Debug("telemetry cursor closed")
			return nil

		case <-cursor.Ready():
			a.drain(cursor)
		}
	}
}

func (a *Aggregator) drain(cursor *bus.Cursor) {
	for _, r := range cursor.Drain() {
		a.Update(r)
	}
}
