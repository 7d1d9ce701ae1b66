// Package carstate defines the operating modes of the car.
package carstate

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Standby Mode = iota
	Config
	RemoteControlled
	AutonomousControlled
)

// ErrInvalidMode is returned when a name does not match any Mode.
var ErrInvalidMode = errors.New("invalid car mode")

// Mode is the operating mode of the car. Standby is the default.
type Mode uint8

var modeNames = [...]string{
	Standby:              "Standby",
	Config:               "Config",
	RemoteControlled:     "RemoteControlled",
	AutonomousControlled: "AutonomousControlled",
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	return []Mode{Standby, Config, RemoteControlled, AutonomousControlled}
}

// ParseMode converts a case-insensitive mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	for i, name := range modeNames {
		if strings.EqualFold(name, s) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: '%s'", ErrInvalidMode, s)
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Driving reports whether the car moves in this mode. Sensor sessions run
// only while driving.
func (m Mode) Driving() bool {
	return m == RemoteControlled || m == AutonomousControlled
}

func (m Mode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
