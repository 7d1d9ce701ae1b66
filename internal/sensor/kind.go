package sensor

import (
	"fmt"
	"strings"
)

const (
	KindImu Kind = iota
	KindUltrasonic
	KindGps
	KindVelocity
	KindAmbience
)

// Kind identifies one of the fixed set of sensors mounted on the car.
type Kind uint8

var kindNames = [...]string{
	KindImu:        "Imu",
	KindUltrasonic: "Ultrasonic",
	KindGps:        "Gps",
	KindVelocity:   "Velocity",
	KindAmbience:   "Ambience",
}

// Kinds returns every sensor kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindImu, KindUltrasonic, KindGps, KindVelocity, KindAmbience}
}

// ParseKind converts a case-insensitive sensor name into a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: '%s'", ErrInvalidKind, s)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsValid reports whether k is one of the declared kinds.
func (k Kind) IsValid() bool {
	return int(k) < len(kindNames)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
