package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// ReadingsReader provides an iterator-based interface for reading the
// readings of a recorded session.
type ReadingsReader interface {
	// Session returns metadata about the session this reader is accessing.
	Session() *Session

	// Next advances the iterator and returns true if there is another reading
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current reading in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() sensor.TimedReading

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

var _ ReadingsReader = (*SqliteReadingsReader)(nil)

// ReaderOption configures a ReadingsReader with specific filtering criteria.
type ReaderOption func(*SqliteReadingsReader)

// WithKinds restricts the reader to the given sensor kinds.
func WithKinds(kinds ...sensor.Kind) ReaderOption {
	return func(r *SqliteReadingsReader) {
		r.kinds = append(r.kinds, kinds...)
	}
}

// WithTimeRange restricts the reader to readings stamped within [from, to]
// of the session start.
func WithTimeRange(from, to time.Duration) ReaderOption {
	return func(r *SqliteReadingsReader) {
		r.from = &from
		r.to = &to
	}
}

// WithValidOnly skips invalid sentinel readings.
func WithValidOnly() ReaderOption {
	return func(r *SqliteReadingsReader) {
		r.validOnly = true
	}
}

// SqliteReadingsReader implements ReadingsReader for SQLite database backend.
type SqliteReadingsReader struct {
	db *sql.DB

	sessionID int64
	session   *Session

	kinds     []sensor.Kind
	from      *time.Duration // Optional start of time range filter
	to        *time.Duration // Optional end of time range filter
	validOnly bool

	current sensor.TimedReading
	rows    *sql.Rows
	err     error
}

func newSqliteReadingsReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteReadingsReader, error) {
	rr := &SqliteReadingsReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(rr)
	}
	if err := rr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return rr, nil
}

func (rr *SqliteReadingsReader) init(ctx context.Context) error {
	if rr.db == nil {
		return errors.New("database connection required")
	}
	if rr.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: rr.loadSession},
		{msg: "initializing filters", fn: rr.initFilters},
		{msg: "initializing query", fn: rr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (rr *SqliteReadingsReader) loadSession(ctx context.Context) (err error) {
	rr.session, err = querySession(ctx, rr.db, rr.sessionID)
	return
}

func (rr *SqliteReadingsReader) initFilters(context.Context) error {
	if rr.from == nil {
		from := time.Duration(0)
		rr.from = &from
	}
	if rr.to == nil {
		to := time.Duration(math.MaxInt64)
		rr.to = &to
	}
	if *rr.from > *rr.to {
		return fmt.Errorf("time range start %s is after end %s", *rr.from, *rr.to)
	}
	for _, kind := range rr.kinds {
		if !kind.IsValid() {
			return fmt.Errorf("%w: %d", sensor.ErrInvalidKind, uint8(kind))
		}
	}
	return nil
}

func (rr *SqliteReadingsReader) initQuery(ctx context.Context) (err error) {
	args := []interface{}{rr.sessionID, rr.from.Milliseconds(), rr.to.Milliseconds()}

	var sb strings.Builder
	sb.WriteString(selectReadingsSQL)

	if rr.validOnly {
		sb.WriteString("\n    AND valid = 1")
	}

	if len(rr.kinds) > 0 {
		sb.WriteString("\n    AND kind IN (")
		for i, kind := range rr.kinds {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, kind.String())
		}
		sb.WriteString(")")
	}

	sb.WriteString("\nORDER BY timestamp_ms, id")

	if rr.rows, err = rr.db.QueryContext(ctx, sb.String(), args...); err != nil {
		return err
	}
	return nil
}

func (rr *SqliteReadingsReader) Session() *Session {
	return rr.session
}

func (rr *SqliteReadingsReader) Next(ctx context.Context) bool {
	if rr.err != nil || rr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		rr.err = ctx.Err()
		return false
	default:
	}

	if !rr.rows.Next() {
		return false
	}

	var data readingData
	if rr.err = rr.rows.Scan(&data.TimestampMs, &data.Payload); rr.err != nil {
		rr.err = fmt.Errorf("scanning reading: %w", rr.err)
		return false
	}

	var r sensor.TimedReading
	if rr.err = json.Unmarshal([]byte(data.Payload), &r); rr.err != nil {
		rr.err = fmt.Errorf("decoding reading at %dms: %w", data.TimestampMs, rr.err)
		return false
	}

	rr.current = r
	return true
}

func (rr *SqliteReadingsReader) Current() sensor.TimedReading {
	return rr.current
}

func (rr *SqliteReadingsReader) Error() error {
	if rr.err != nil {
		return rr.err
	}
	if rr.rows != nil {
		return rr.rows.Err()
	}
	return nil
}

func (rr *SqliteReadingsReader) Close() error {
	if rr.rows != nil {
		err := rr.rows.Close()
		rr.current = sensor.TimedReading{}
		rr.rows = nil
		return err
	}
	return nil
}
