// Package imu drives a Bosch BNO055 absolute orientation sensor attached to
// the I2C bus. The sensor runs in NDOF fusion mode and reports a unit
// quaternion plus linear (gravity-free) acceleration.
package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const (
	// DefaultAddress is the BNO055 address with COM3 pulled high.
	DefaultAddress byte = 0x29

	// PrimaryAddress is the BNO055 address with COM3 pulled low.
	PrimaryAddress byte = 0x28

	chipID byte = 0xA0

	regChipID     byte = 0x00
	regQuaternion byte = 0x20
	regLinearAcc  byte = 0x28
	regTemp       byte = 0x34
	regCalibStat  byte = 0x35
	regOprMode    byte = 0x3D
	regPwrMode    byte = 0x3E
	regSysTrigger byte = 0x3F
	regPageID     byte = 0x07
	regOffsets    byte = 0x55

	modeConfig byte = 0x00
	modeNDOF   byte = 0x0C

	powerNormal byte = 0x00

	offsetsLength = 22

	quaternionScale   = 1.0 / (1 << 14)
	accelerationScale = 1.0 / 100.0

	bootDelay       = 650 * time.Millisecond
	modeSwitchDelay = 25 * time.Millisecond
)

var errChipID = errors.New("unexpected chip id")

var (
	_ sensor.Driver               = (*Sensor)(nil)
	_ sensor.Debugger             = (*Sensor)(nil)
	_ sensor.CalibrationPersister = (*Sensor)(nil)
)

// Bus is the subset of embd.I2CBus the driver needs.
type Bus interface {
	ReadByteFromReg(addr, reg byte) (byte, error)
	ReadFromReg(addr, reg byte, value []byte) error
	WriteByteToReg(addr, reg, value byte) error
	WriteToReg(addr, reg byte, value []byte) error
}

// CalibrationStatus holds the 0..3 calibration level of each subsystem.
// Three means fully calibrated.
type CalibrationStatus struct {
	System        uint8
	Gyroscope     uint8
	Accelerometer uint8
	Magnetometer  uint8
}

// Calibrated reports whether every subsystem is fully calibrated.
func (s CalibrationStatus) Calibrated() bool {
	return s.System == 3 && s.Gyroscope == 3 && s.Accelerometer == 3 && s.Magnetometer == 3
}

func (s CalibrationStatus) String() string {
	return fmt.Sprintf("sys=%d gyr=%d acc=%d mag=%d", s.System, s.Gyroscope, s.Accelerometer, s.Magnetometer)
}

// WithAddress sets the I2C address. Defaults to DefaultAddress.
func WithAddress(addr byte) func(*Sensor) {
	return func(s *Sensor) {
		s.addr = addr
	}
}

// WithProfile sets the path of the YAML calibration profile. Offsets stored
// there are written to the chip at construction and PersistCalibration
// overwrites it.
func WithProfile(path string) func(*Sensor) {
	return func(s *Sensor) {
		s.profile = path
	}
}

// WithDelay replaces time.Sleep for the chip's mandatory settle times.
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

// Sensor is a BNO055 in NDOF mode.
type Sensor struct {
	bus     Bus
	addr    byte
	profile string
	sleep   func(time.Duration)
	logger  *slog.Logger
}

// New probes the chip, restores stored calibration offsets and switches it to
// NDOF fusion mode. A missing or unresponsive chip yields a *sensor.InitError.
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

	s.logger = s.logger.With(slog.String("sensor", sensor.KindImu.String()))

	if err := s.init(); err != nil {
		return nil, sensor.NewInitError(sensor.KindImu, err)
	}

	return &s, nil
}

func (s *Sensor) init() error {
	id, err := s.bus.ReadByteFromReg(s.addr, regChipID)
	if err != nil || id != chipID {
		// the chip needs a while after power-on before it answers
		s.sleep(bootDelay)
		if id, err = s.bus.ReadByteFromReg(s.addr, regChipID); err != nil {
			return fmt.Errorf("reading chip id: %w", err)
		}
		if id != chipID {
			return fmt.Errorf("%w 0x%02X at address 0x%02X", errChipID, id, s.addr)
		}
	}

	if err = s.setMode(modeConfig); err != nil {
		return err
	}

	steps := []struct {
		reg, value byte
	}{
		{regPwrMode, powerNormal},
		{regPageID, 0},
		{regSysTrigger, 0},
	}
	for _, step := range steps {
		if err = s.bus.WriteByteToReg(s.addr, step.reg, step.value); err != nil {
			return fmt.Errorf("writing register 0x%02X: %w", step.reg, err)
		}
	}

	if s.profile != "" {
		offsets, err := LoadProfile(s.profile)
		switch {
		case errors.Is(err, errNoProfile):
			s.logger.Info("no calibration profile found, starting uncalibrated", slog.String("profile", s.profile))

		case err != nil:
			s.logger.Warn("ignoring unreadable calibration profile", slog.String("profile", s.profile), slog.Any("error", err))

		default:
			if err = s.bus.WriteToReg(s.addr, regOffsets, offsets.bytes()); err != nil {
				return fmt.Errorf("restoring calibration offsets: %w", err)
			}
			s.logger.Info("calibration offsets restored", slog.String("profile", s.profile))
		}
	}

	return s.setMode(modeNDOF)
}

func (s *Sensor) setMode(mode byte) error {
	if err := s.bus.WriteByteToReg(s.addr, regOprMode, mode); err != nil {
		return fmt.Errorf("setting operation mode 0x%02X: %w", mode, err)
	}
	s.sleep(modeSwitchDelay)
	return nil
}

func (s *Sensor) Kind() sensor.Kind {
	return sensor.KindImu
}

// Read returns orientation and linear acceleration, or the invalid sentinel
// when the bus read fails.
func (s *Sensor) Read() sensor.Reading {
	var quat [8]byte
	if err := s.bus.ReadFromReg(s.addr, regQuaternion, quat[:]); err != nil {
		s.logger.Debug("read failed", slog.Any("error", sensor.NewReadError(sensor.KindImu, err)))
		return sensor.InvalidImu()
	}

	var acc [6]byte
	if err := s.bus.ReadFromReg(s.addr, regLinearAcc, acc[:]); err != nil {
		s.logger.Debug("read failed", slog.Any("error", sensor.NewReadError(sensor.KindImu, err)))
		return sensor.InvalidImu()
	}

	var r sensor.Imu
	for i := range r.Quaternion {
		r.Quaternion[i] = float32(int16(binary.LittleEndian.Uint16(quat[i*2:]))) * quaternionScale
	}
	for i := range r.Acceleration {
		r.Acceleration[i] = float32(int16(binary.LittleEndian.Uint16(acc[i*2:]))) * accelerationScale
	}

	return r
}

// CalibrationStatus reads the CALIB_STAT register.
func (s *Sensor) CalibrationStatus() (CalibrationStatus, error) {
	v, err := s.bus.ReadByteFromReg(s.addr, regCalibStat)
	if err != nil {
		return CalibrationStatus{}, fmt.Errorf("reading calibration status: %w", err)
	}

	return CalibrationStatus{
		System:        (v >> 6) & 0x03,
		Gyroscope:     (v >> 4) & 0x03,
		Accelerometer: (v >> 2) & 0x03,
		Magnetometer:  v & 0x03,
	}, nil
}

// Temperature returns the chip temperature in °C.
func (s *Sensor) Temperature() (int8, error) {
	v, err := s.bus.ReadByteFromReg(s.addr, regTemp)
	if err != nil {
		return 0, fmt.Errorf("reading temperature: %w", err)
	}
	return int8(v), nil
}

func (s *Sensor) DebugSnapshot() string {
	out := s.Read().String()

	if status, err := s.CalibrationStatus(); err != nil {
		out += fmt.Sprintf(", calibration: %v", err)
	} else {
		out += fmt.Sprintf(", calibration: %s, calibrated: %t", status, status.Calibrated())
	}

	if temp, err := s.Temperature(); err == nil {
		out += fmt.Sprintf(", temperature: %d", temp)
	}

	return out
}

// Offsets reads the current calibration offsets. The chip is briefly put
// into CONFIG mode, as the offset registers are only valid there.
func (s *Sensor) Offsets() (Offsets, error) {
	if err := s.setMode(modeConfig); err != nil {
		return Offsets{}, err
	}

	var raw [offsetsLength]byte
	readErr := s.bus.ReadFromReg(s.addr, regOffsets, raw[:])

	if err := s.setMode(modeNDOF); err != nil {
		return Offsets{}, err
	}
	if readErr != nil {
		return Offsets{}, fmt.Errorf("reading calibration offsets: %w", readErr)
	}

	return offsetsFromBytes(raw[:]), nil
}

// PersistCalibration stores the chip's current offsets in the profile file.
func (s *Sensor) PersistCalibration() error {
	if s.profile == "" {
		return errors.New("no calibration profile configured")
	}

	offsets, err := s.Offsets()
	if err != nil {
		return err
	}

	if err = SaveProfile(s.profile, offsets); err != nil {
		return err
	}

	s.logger.Info("calibration offsets saved", slog.String("profile", s.profile))
	return nil
}
