// Package velocity implements the derived forward velocity sensor. It owns a
// private subscription to the sensor bus and integrates the forward component
// of every IMU acceleration sample it sees.
package velocity

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// Deadband is the acceleration magnitude, in m/s², below which a sample is
// treated as exactly zero.
const Deadband = 0.005

var (
	_ sensor.Driver         = (*Sensor)(nil)
	_ sensor.SessionStarter = (*Sensor)(nil)
	_ sensor.Debugger       = (*Sensor)(nil)
	_ io.Closer             = (*Sensor)(nil)
)

// WithClock replaces time.Now as the integration time base.
func WithClock(now func() time.Time) func(*Sensor) {
	return func(s *Sensor) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(*Sensor) {
	return func(s *Sensor) {
		s.logger = logger
	}
}

// Sensor integrates IMU forward acceleration with the trapezoidal rule. The
// step width is the wall-clock time since the previous integration step, not
// the timestamp carried by the IMU reading.
type Sensor struct {
	cursor *bus.Cursor
	now    func() time.Time
	logger *slog.Logger

	lastVelocity     float64
	lastAcceleration float64
	lastStep         time.Time
	steps            uint64
}

// New subscribes to ch and returns a sensor at rest.
func New(ch *bus.Channel, options ...func(*Sensor)) (*Sensor, error) {
	cursor, err := ch.Subscribe()
	if err != nil {
		return nil, sensor.NewInitError(sensor.KindVelocity, err)
	}

	s := Sensor{
		cursor: cursor,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

func (s *Sensor) Kind() sensor.Kind {
	return sensor.KindVelocity
}

// OnSessionStart resets the integrator. The driver is built while Idle, so
// anything already buffered belongs to the session that is starting.
func (s *Sensor) OnSessionStart() {
	s.lastVelocity = 0
	s.lastAcceleration = 0
	s.lastStep = s.now()
	s.steps = 0
}

// Read integrates every IMU reading buffered since the previous call and
// returns the latest velocity. It is unchanged when nothing new arrived.
func (s *Sensor) Read() sensor.Reading {
	for _, r := range s.cursor.Drain() {
		imu, ok := r.Reading.(sensor.Imu)
		if !ok || !imu.Valid() {
			continue
		}
		s.step(float64(imu.Acceleration[0]))
	}

	return sensor.Velocity(s.lastVelocity)
}

func (s *Sensor) step(acceleration float64) {
	if math.Abs(acceleration) < Deadband {
		acceleration = 0
	}

	now := s.now()

	var dt float64
	if !s.lastStep.IsZero() {
		dt = now.Sub(s.lastStep).Seconds()
	}

	s.lastVelocity += 0.5 * (acceleration + s.lastAcceleration) * dt
	s.lastAcceleration = acceleration
	s.lastStep = now
	s.steps++

	if s.steps%10 == 0 {
		s.logger.Debug("velocity updated",
			slog.Float64("velocity", s.lastVelocity),
			slog.Float64("acceleration", acceleration))
	}
}

func (s *Sensor) DebugSnapshot() string {
	return fmt.Sprintf("Velocity { velocity: %g, acceleration: %g, dropped: %d }",
		s.lastVelocity, s.lastAcceleration, s.cursor.Dropped())
}

// Close releases the bus subscription.
func (s *Sensor) Close() error {
	s.cursor.Close()
	return nil
}
