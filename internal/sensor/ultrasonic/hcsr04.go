// Package ultrasonic drives an HC-SR04 range finder through two GPIO pins.
package ultrasonic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const (
	// DefaultTriggerPin and DefaultEchoPin are BCM pin numbers.
	DefaultTriggerPin = 24
	DefaultEchoPin    = 23

	// DefaultTemperature is the air temperature assumed when none is configured.
	DefaultTemperature = 21.0

	// DefaultTimeout bounds each echo edge wait, about 4 m of range.
	DefaultTimeout = 25 * time.Millisecond

	settleDelay  = 2 * time.Microsecond
	triggerPulse = 10 * time.Microsecond
)

var (
	errNoEcho     = errors.New("no echo")
	errEchoStuck  = errors.New("echo pin stuck high")
	errEchoLength = errors.New("echo did not end")
)

var _ sensor.Driver = (*Sensor)(nil)

// TriggerPin is the output side of an rpio.Pin.
type TriggerPin interface {
	Output()
	High()
	Low()
}

// EchoPin is the input side of an rpio.Pin.
type EchoPin interface {
	Input()
	Read() rpio.State
}

// SpeedOfSound returns the speed of sound in m/s at the given temperature in °C.
func SpeedOfSound(celsius float64) float64 {
	return 331.3 + 0.606*celsius
}

// WithTemperature sets the air temperature used for the speed of sound.
func WithTemperature(celsius float64) func(*Sensor) {
	return func(s *Sensor) {
		s.speed = SpeedOfSound(celsius)
	}
}

// WithTimeout bounds the wait for each echo edge.
func WithTimeout(d time.Duration) func(*Sensor) {
	return func(s *Sensor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now for pulse timing.
func WithClock(now func() time.Time) func(*Sensor) {
	return func(s *Sensor) {
		s.now = now
	}
}

// WithSleep replaces time.Sleep for the trigger pulse.
func WithSleep(sleep func(time.Duration)) func(*Sensor) {
	return func(s *Sensor) {
		s.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(*Sensor) {
	return func(s *Sensor) {
		s.logger = logger
	}
}

type Sensor struct {
	trigger TriggerPin
	echo    EchoPin

	speed   float64
	timeout time.Duration
	now     func() time.Time
	sleep   func(time.Duration)
	logger  *slog.Logger
}

// New configures the pins. It fails when the echo line is already high, which
// means the module is missing or miswired.
func New(trigger TriggerPin, echo EchoPin, options ...func(*Sensor)) (*Sensor, error) {
	s := Sensor{
		trigger: trigger,
		echo:    echo,
		speed:   SpeedOfSound(DefaultTemperature),
		timeout: DefaultTimeout,
		now:     time.Now,
		sleep:   time.Sleep,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	s.logger = s.logger.With(slog.String("sensor", sensor.KindUltrasonic.String()))

	s.trigger.Output()
	s.trigger.Low()
	s.echo.Input()

	if s.echo.Read() == rpio.High {
		return nil, sensor.NewInitError(sensor.KindUltrasonic, errEchoStuck)
	}

	return &s, nil
}

func (s *Sensor) Kind() sensor.Kind {
	return sensor.KindUltrasonic
}

// Read returns the distance to the nearest obstacle, or +Inf when nothing
// echoed back in time.
func (s *Sensor) Read() sensor.Reading {
	d, err := s.Measure()
	if err != nil {
		s.logger.Debug("measurement failed", slog.Any("error", sensor.NewReadError(sensor.KindUltrasonic, err)))
		return sensor.Distance(math.Inf(1))
	}
	return sensor.Distance(d)
}

// Measure fires one ping and returns the distance in centimeters.
func (s *Sensor) Measure() (float32, error) {
	s.trigger.Low()
	s.sleep(settleDelay)
	s.trigger.High()
	s.sleep(triggerPulse)
	s.trigger.Low()

	start, err := s.waitFor(rpio.High, errNoEcho)
	if err != nil {
		return 0, err
	}

	end, err := s.waitFor(rpio.Low, errEchoLength)
	if err != nil {
		return 0, err
	}

	pulse := end.Sub(start).Seconds()
	return float32(pulse * s.speed * 100 / 2), nil
}

func (s *Sensor) waitFor(state rpio.State, timeoutErr error) (time.Time, error) {
	deadline := s.now().Add(s.timeout)
	for {
		now := s.now()
		if s.echo.Read() == state {
			return now, nil
		}
		if now.After(deadline) {
			return time.Time{}, fmt.Errorf("%w after %v", timeoutErr, s.timeout)
		}
	}
}

func (s *Sensor) DebugSnapshot() string {
	return fmt.Sprintf("%s, speed of sound: %.1f m/s, timeout: %v", s.Read(), s.speed, s.timeout)
}
