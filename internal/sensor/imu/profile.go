package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

var errNoProfile = errors.New("calibration profile does not exist")

// Offsets mirrors the BNO055 offset register block (0x55..0x6A).
type Offsets struct {
	Accelerometer [3]int16 `yaml:"accelerometer"`
	Magnetometer  [3]int16 `yaml:"magnetometer"`
	Gyroscope     [3]int16 `yaml:"gyroscope"`
	AccelRadius   int16    `yaml:"accelRadius"`
	MagRadius     int16    `yaml:"magRadius"`
}

func offsetsFromBytes(b []byte) Offsets {
	word := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(b[i*2:]))
	}

	var o Offsets
	for i := 0; i < 3; i++ {
		o.Accelerometer[i] = word(i)
		o.Magnetometer[i] = word(3 + i)
		o.Gyroscope[i] = word(6 + i)
	}
	o.AccelRadius = word(9)
	o.MagRadius = word(10)

	return o
}

func (o Offsets) bytes() []byte {
	b := make([]byte, 0, offsetsLength)
	for _, v := range o.Accelerometer {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	for _, v := range o.Magnetometer {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	for _, v := range o.Gyroscope {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(o.AccelRadius))
	return binary.LittleEndian.AppendUint16(b, uint16(o.MagRadius))
}

// LoadProfile reads calibration offsets from a YAML file.
func LoadProfile(path string) (Offsets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Offsets{}, errNoProfile
	}
	if err != nil {
		return Offsets{}, fmt.Errorf("reading calibration profile: %w", err)
	}

	var o Offsets
	if err = yaml.Unmarshal(data, &o); err != nil {
		return Offsets{}, fmt.Errorf("parsing calibration profile: %w", err)
	}

	return o, nil
}

// SaveProfile writes calibration offsets to a YAML file.
func SaveProfile(path string, o Offsets) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding calibration profile: %w", err)
	}

	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing calibration profile: %w", err)
	}

	return nil
}
