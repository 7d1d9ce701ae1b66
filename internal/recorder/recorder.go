// Package recorder persists the readings of a sensor session to a store.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ricochet2200/go-disk-usage/du"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/storage"
)

const (
	maxBatchSize  = 100
	flushInterval = time.Second
)

// ErrLowDiskSpace is returned when a session is not recorded, or recording is
// cut short, because the data directory is running out of space.
var ErrLowDiskSpace = errors.New("not enough free disk space")

func diskFree(dir string) uint64 {
	return du.NewDiskUsage(dir).Free()
}

// WithMaxBatchSize sets the maximum number of readings stored within a single
// database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		r.maxBatchSize = size
	}
}

// WithFlushInterval sets how often buffered readings are written when fewer
// than a full batch are pending.
func WithFlushInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

func WithLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithDiskGuard refuses to start, and stops, a recording while dir has less
// than minFree bytes available.
func WithDiskGuard(dir string, minFree uint64) func(*Recorder) {
	return func(r *Recorder) {
		r.dataDir = dir
		r.minFree = minFree
	}
}

// WithClock sets the time source used for the session end time.
func WithClock(now func() time.Time) func(*Recorder) {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder drains a session cursor into a store.
type Recorder struct {
	store         storage.Store
	maxBatchSize  int
	flushInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	dataDir  string
	minFree  uint64
	freeFunc func(dir string) uint64
}

func New(store storage.Store, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:         store,
		maxBatchSize:  maxBatchSize,
		flushInterval: flushInterval,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		freeFunc:      diskFree,
	}

	for _, option := range options {
		option(&r)
	}

	if r.maxBatchSize <= 0 {
		r.maxBatchSize = maxBatchSize
	}
	if r.flushInterval <= 0 {
		r.flushInterval = flushInterval
	}

	return &r
}

// Record creates a session in the store and writes every reading from cursor
// to it. It returns once the cursor is closed or ctx is cancelled, after
// writing whatever was still buffered and recording the session end.
func (r *Recorder) Record(ctx context.Context, cursor *bus.Cursor, start time.Time, label string) (sessionID int64, err error) {
	if free, ok := r.spaceLeft(); !ok {
		cursor.Close()
		return 0, fmt.Errorf("%w: %s left", ErrLowDiskSpace, humanize.IBytes(free))
	}

	sessionID, err = r.store.CreateSession(ctx, start, label)
	if err != nil {
		cursor.Close()
		return 0, fmt.Errorf("creating session: %w", err)
	}

	logger := r.logger.With(slog.Int64("session", sessionID))
	logger.Info("recording session", slog.String("label", label))

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var pending []sensor.TimedReading
	var stored, failed int
	var lowSpace bool

	flush := func(ctx context.Context) {
		s, f := r.flush(ctx, logger, sessionID, pending)
		stored += s
		failed += f
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			cursor.Close()

		case <-cursor.Done():
			pending = append(pending, cursor.Drain()...)

			wctx := context.WithoutCancel(ctx)
			flush(wctx)

			if fErr := r.store.FinishSession(wctx, sessionID, r.now()); fErr != nil {
				err = errors.Join(err, fmt.Errorf("finishing session: %w", fErr))
			}

			logger.Info("session recorded",
				slog.String("stored", humanize.Comma(int64(stored))),
				slog.String("failed", humanize.Comma(int64(failed))),
				slog.String("dropped", humanize.Comma(int64(cursor.Dropped()))))
			return

		case <-cursor.Ready():
			pending = append(pending, cursor.Drain()...)
			if len(pending) >= r.maxBatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			if len(pending) > 0 {
				flush(ctx)
			}

			if free, ok := r.spaceLeft(); !ok && !lowSpace {
				lowSpace = true
				err = fmt.Errorf("%w: %s left", ErrLowDiskSpace, humanize.IBytes(free))
				logger.Warn("disk space running out, stopping recording", slog.String("free", humanize.IBytes(free)))
				cursor.Close()
			}
		}
	}
}

// spaceLeft reports the free space of the data directory and whether it is
// above the configured minimum.
func (r *Recorder) spaceLeft() (uint64, bool) {
	if r.minFree == 0 {
		return 0, true
	}
	free := r.freeFunc(r.dataDir)
	return free, free >= r.minFree
}

// flush stores readings in chunks of at most maxBatchSize. A failing chunk
// is logged and skipped.
func (r *Recorder) flush(ctx context.Context, logger *slog.Logger, sessionID int64, readings []sensor.TimedReading) (stored, failed int) {
	for chunk := range slices.Chunk(readings, r.maxBatchSize) {
		if err := r.store.StoreReadings(ctx, sessionID, chunk); err != nil {
			logger.Error("failed to store readings", slog.Int("count", len(chunk)), slog.Any("error", err))
			failed += len(chunk)
			continue
		}
		stored += len(chunk)
	}
	return
}
