// Package sensor defines the values carried through the telemetry pipeline
// and the capability every sensor driver implements.
package sensor

import (
	"time"
)

// Driver is implemented by every physical sensor and by derived sensors.
//
// A driver instance is owned by exactly one goroutine at a time, so
// implementations need no internal locking.
type Driver interface {
	// Kind returns the stable identity of the sensor.
	Kind() Kind

	// Read performs one blocking transport read. Transport errors never
	// escape: the driver logs them and returns an invalid sentinel value.
	Read() Reading
}

// SessionStarter is implemented by drivers that need to reset internal state
// when a new session begins.
type SessionStarter interface {
	OnSessionStart()
}

// TimedReader is implemented by drivers that stamp their own readings.
type TimedReader interface {
	ReadWithTimestamp(start time.Time) TimedReading
}

// Debugger is implemented by drivers that expose more than their reading to
// the calibration endpoints.
type Debugger interface {
	DebugSnapshot() string
}

// CalibrationPersister is implemented by drivers that can save their current
// calibration.
type CalibrationPersister interface {
	PersistCalibration() error
}

// OnSessionStart runs the driver's session hook, if it has one.
func OnSessionStart(d Driver) {
	if s, ok := d.(SessionStarter); ok {
		s.OnSessionStart()
	}
}

// ReadWithTimestamp reads d and stamps the result with the time elapsed since
// start.
func ReadWithTimestamp(d Driver, start time.Time) TimedReading {
	if tr, ok := d.(TimedReader); ok {
		return tr.ReadWithTimestamp(start)
	}

	reading := d.Read()
	return TimedReading{Reading: reading, Timestamp: time.Since(start)}
}

// DebugSnapshot returns the driver's debug text, defaulting to its reading.
func DebugSnapshot(d Driver) string {
	if dbg, ok := d.(Debugger); ok {
		return dbg.DebugSnapshot()
	}
	return d.Read().String()
}

// PersistCalibration saves the driver's calibration. Drivers without
// calibration succeed without doing anything.
func PersistCalibration(d Driver) error {
	if p, ok := d.(CalibrationPersister); ok {
		return p.PersistCalibration()
	}
	return nil
}
