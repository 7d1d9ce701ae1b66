package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is deferred after BeginTx; it is a no-op once the
// transaction has been committed.
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toReadingData(r sensor.TimedReading) (*readingData, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling reading: %w", err)
	}

	return &readingData{
		Kind:        r.Kind().String(),
		TimestampMs: r.Timestamp.Milliseconds(),
		Valid:       r.Reading.Valid(),
		Payload:     string(payload),
	}, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
