// Package ambience drives an HTU21D-F temperature and humidity sensor on the
// I2C bus.
package ambience

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const (
	// DefaultAddress is the fixed HTU21D-F address.
	DefaultAddress byte = 0x40

	cmdTriggerTemperature byte = 0xF3
	cmdTriggerHumidity    byte = 0xF5
	cmdSoftReset          byte = 0xFE

	temperatureDelay = 50 * time.Millisecond
	humidityDelay    = 16 * time.Millisecond
	resetDelay       = 15 * time.Millisecond
)

var errChecksum = errors.New("checksum mismatch")

var _ sensor.Driver = (*Sensor)(nil)

// Bus is the subset of embd.I2CBus the driver needs.
type Bus interface {
	WriteByte(addr, value byte) error
	ReadBytes(addr byte, num int) ([]byte, error)
}

// WithAddress sets the I2C address.
func WithAddress(addr byte) func(*Sensor) {
	return func(s *Sensor) {
		s.addr = addr
	}
}

// WithDelay replaces time.Sleep for conversion waits.
func WithDelay(sleep func(time.Duration)) func(*Sensor) {
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
	bus    Bus
	addr   byte
	sleep  func(time.Duration)
	logger *slog.Logger
}

// New soft-resets the sensor and checks that a temperature conversion
// succeeds.
func New(bus Bus, options ...func(*Sensor)) (*Sensor, error) {
	s := Sensor{
		bus:    bus,
		addr:   DefaultAddress,
		sleep:  time.Sleep,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	s.logger = s.logger.With(slog.String("sensor", sensor.KindAmbience.String()))

	if err := s.bus.WriteByte(s.addr, cmdSoftReset); err != nil {
		return nil, sensor.NewInitError(sensor.KindAmbience, fmt.Errorf("soft reset: %w", err))
	}
	s.sleep(resetDelay)

	if _, err := s.Temperature(); err != nil {
		return nil, sensor.NewInitError(sensor.KindAmbience, err)
	}

	return &s, nil
}

func (s *Sensor) Kind() sensor.Kind {
	return sensor.KindAmbience
}

// Read measures temperature and humidity. A failed measurement is replaced
// by NaN, independently for each value.
func (s *Sensor) Read() sensor.Reading {
	r := sensor.InvalidAmbience()

	if t, err := s.Temperature(); err != nil {
		s.logger.Debug("temperature read failed", slog.Any("error", sensor.NewReadError(sensor.KindAmbience, err)))
	} else {
		r.Temperature = t
	}

	if h, err := s.Humidity(); err != nil {
		s.logger.Debug("humidity read failed", slog.Any("error", sensor.NewReadError(sensor.KindAmbience, err)))
	} else {
		r.Humidity = h
	}

	return r
}

// Temperature returns the air temperature in °C.
func (s *Sensor) Temperature() (float32, error) {
	raw, err := s.measure(cmdTriggerTemperature, temperatureDelay)
	if err != nil {
		return 0, fmt.Errorf("measuring temperature: %w", err)
	}
	return -46.85 + 175.72*float32(raw)/65536, nil
}

// Humidity returns the relative humidity in %.
func (s *Sensor) Humidity() (float32, error) {
	raw, err := s.measure(cmdTriggerHumidity, humidityDelay)
	if err != nil {
		return 0, fmt.Errorf("measuring humidity: %w", err)
	}
	return -6 + 125*float32(raw)/65536, nil
}

func (s *Sensor) measure(cmd byte, wait time.Duration) (uint16, error) {
	if err := s.bus.WriteByte(s.addr, cmd); err != nil {
		return 0, err
	}
	s.sleep(wait)

	data, err := s.bus.ReadBytes(s.addr, 3)
	if err != nil {
		return 0, err
	}
	if len(data) != 3 {
		return 0, fmt.Errorf("short read: %d bytes", len(data))
	}
	if crc8(data[:2]) != data[2] {
		return 0, errChecksum
	}

	// the two low bits carry status
	return (uint16(data[0])<<8 | uint16(data[1])) &^ 0x0003, nil
}

// crc8 implements the HTU21D checksum, polynomial x^8 + x^5 + x^4 + 1.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
