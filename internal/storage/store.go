// Package storage persists recorded sensor sessions and their readings.
package storage

import (
	"context"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// Store provides an interface for managing recorded sensor sessions.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession registers a new recording and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - start: Wall-clock start of the sensor session; reading timestamps are relative to it
	//   - label: Optional free-form label, e.g. the car mode. Empty means none
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, start time.Time, label string) (sessionID int64, err error)

	// FinishSession records the wall-clock end of a session.
	FinishSession(ctx context.Context, sessionID int64, end time.Time) error

	// Session retrieves a specific session by its ID. It returns ErrNotFound
	// for an unknown ID.
	Session(ctx context.Context, id int64) (*Session, error)

	// Sessions returns all sessions ordered by start time in ascending order.
	Sessions(ctx context.Context) ([]*Session, error)

	// StoreReadings saves a batch of readings for a session. All readings in
	// the batch are stored in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session the readings belong to
	//   - readings: Readings in publish order; invalid sentinels are stored too
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreReadings(ctx context.Context, sessionID int64, readings []sensor.TimedReading) error

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
