package storage

import (
	"database/sql"
	"time"
)

// Session describes one recorded sensor session.
type Session struct {
	ID        int64      `json:"id"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Label     *string    `json:"label,omitempty"`
}

// Duration returns the session length, or zero while it is still recording.
func (s *Session) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

type sessionData struct {
	ID        int64
	StartTime time.Time
	EndTime   sql.NullTime
	Label     sql.NullString
}

func (d *sessionData) toSession() *Session {
	s := Session{
		ID:        d.ID,
		StartTime: d.StartTime,
	}
	if d.EndTime.Valid {
		s.EndTime = &d.EndTime.Time
	}
	if d.Label.Valid {
		s.Label = &d.Label.String
	}
	return &s
}

type readingData struct {
	Kind        string
	TimestampMs int64
	Valid       bool
	Payload     string
}
