package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Reading is a single immutable value produced by a sensor driver. The set of
// implementations is closed: Imu, Distance, Gps, Velocity and Ambience.
type Reading interface {
	fmt.Stringer

	// Kind returns the sensor kind that produces this reading.
	Kind() Kind

	// Variant returns the name used as the variant key when serialized.
	Variant() string

	// Valid reports whether the reading carries a usable value. Drivers
	// substitute NaN or infinite values when a transport read fails.
	Valid() bool

	isReading()
}

// Imu is an orientation and linear acceleration sample. Quaternion is
// ordered w, x, y, z; Acceleration is x (forward), y, z in m/s².
type Imu struct {
	Quaternion   [4]float32
	Acceleration [3]float32
}

// Distance is an obstacle distance in centimeters.
type Distance float32

// Gps is a position fix. Confidence is a 0..100 quality figure.
type Gps struct {
	X          float32
	Y          float32
	Z          float32
	Confidence uint8
}

// Velocity is the forward velocity in m/s.
type Velocity float64

// Ambience is the air temperature in °C and relative humidity in %.
type Ambience struct {
	Temperature float32
	Humidity    float32
}

// InvalidImu returns the sentinel used when the IMU could not be read.
func InvalidImu() Imu {
	nan := float32(math.NaN())
	return Imu{
		Quaternion:   [4]float32{nan, nan, nan, nan},
		Acceleration: [3]float32{nan, nan, nan},
	}
}

// InvalidGps returns the sentinel used when no position could be read.
func InvalidGps() Gps {
	nan := float32(math.NaN())
	return Gps{X: nan, Y: nan, Z: nan}
}

// InvalidAmbience returns the sentinel used when the ambience sensor could not be read.
func InvalidAmbience() Ambience {
	nan := float32(math.NaN())
	return Ambience{Temperature: nan, Humidity: nan}
}

func (Imu) Kind() Kind      { return KindImu }
func (Distance) Kind() Kind { return KindUltrasonic }
func (Gps) Kind() Kind      { return KindGps }
func (Velocity) Kind() Kind { return KindVelocity }
func (Ambience) Kind() Kind { return KindAmbience }

func (Imu) Variant() string      { return "Imu" }
func (Distance) Variant() string { return "Distance" }
func (Gps) Variant() string      { return "Gps" }
func (Velocity) Variant() string { return "Velocity" }
func (Ambience) Variant() string { return "Ambience" }

func (Imu) isReading()      {}
func (Distance) isReading() {}
func (Gps) isReading()      {}
func (Velocity) isReading() {}
func (Ambience) isReading() {}

func (r Imu) Valid() bool {
	for _, v := range r.Quaternion {
		if !finite32(v) {
			return false
		}
	}
	for _, v := range r.Acceleration {
		if !finite32(v) {
			return false
		}
	}
	return true
}

func (r Distance) Valid() bool { return finite32(float32(r)) }
func (r Gps) Valid() bool      { return finite32(r.X) && finite32(r.Y) && finite32(r.Z) }
func (r Velocity) Valid() bool { return !math.IsNaN(float64(r)) && !math.IsInf(float64(r), 0) }
func (r Ambience) Valid() bool { return finite32(r.Temperature) && finite32(r.Humidity) }

func (r Imu) String() string {
	return fmt.Sprintf("Imu { quaternion: %v, acceleration: %v }", r.Quaternion, r.Acceleration)
}

func (r Distance) String() string { return fmt.Sprintf("Distance(%g)", float32(r)) }

func (r Gps) String() string {
	return fmt.Sprintf("Gps { x: %g, y: %g, z: %g, confidence: %d }", r.X, r.Y, r.Z, r.Confidence)
}

func (r Velocity) String() string { return fmt.Sprintf("Velocity(%g)", float64(r)) }

func (r Ambience) String() string {
	return fmt.Sprintf("Ambience { temperature: %g, humidity: %g }", r.Temperature, r.Humidity)
}

// TimedReading is a reading stamped with the time elapsed since the start of
// the session it was taken in.
type TimedReading struct {
	Reading   Reading
	Timestamp time.Duration
}

// Kind returns the kind of the wrapped reading.
func (t TimedReading) Kind() Kind {
	return t.Reading.Kind()
}

// MarshalJSON encodes the reading as a single variant key paired with its
// payload plus a flattened timestamp_ms field:
//
//	{"Imu": {"quaternion": [...], "acceleration": [...]}, "timestamp_ms": 1234}
//
// Non-finite values are encoded as null.
func (t TimedReading) MarshalJSON() ([]byte, error) {
	if t.Reading == nil {
		return nil, errors.New("marshaling timed reading: no reading")
	}

	payload, err := marshalPayload(t.Reading)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t.Reading.Variant(), err)
	}

	return json.Marshal(map[string]any{
		t.Reading.Variant(): json.RawMessage(payload),
		"timestamp_ms":      t.Timestamp.Milliseconds(),
	})
}

func (t *TimedReading) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	rawTimestamp, ok := fields["timestamp_ms"]
	if !ok {
		return errors.New("unmarshaling timed reading: missing timestamp_ms")
	}
	var ms int64
	if err := json.Unmarshal(rawTimestamp, &ms); err != nil {
		return fmt.Errorf("unmarshaling timestamp_ms: %w", err)
	}
	delete(fields, "timestamp_ms")

	if len(fields) != 1 {
		return fmt.Errorf("unmarshaling timed reading: expected exactly one variant, got %d", len(fields))
	}

	for variant, payload := range fields {
		reading, err := unmarshalPayload(variant, payload)
		if err != nil {
			return err
		}
		t.Reading = reading
	}
	t.Timestamp = time.Duration(ms) * time.Millisecond
	return nil
}

type imuPayload struct {
	Quaternion   [4]*float32 `json:"quaternion"`
	Acceleration [3]*float32 `json:"acceleration"`
}

type gpsPayload struct {
	X          *float32 `json:"x"`
	Y          *float32 `json:"y"`
	Z          *float32 `json:"z"`
	Confidence uint8    `json:"confidence"`
}

type ambiencePayload struct {
	Temperature *float32 `json:"temperature"`
	Humidity    *float32 `json:"humidity"`
}

func marshalPayload(r Reading) ([]byte, error) {
	switch v := r.(type) {
	case Imu:
		var p imuPayload
		for i, q := range v.Quaternion {
			p.Quaternion[i] = finiteOrNil(q)
		}
		for i, a := range v.Acceleration {
			p.Acceleration[i] = finiteOrNil(a)
		}
		return json.Marshal(p)

	case Distance:
		return json.Marshal(finiteOrNil(float32(v)))

	case Gps:
		return json.Marshal(gpsPayload{
			X:          finiteOrNil(v.X),
			Y:          finiteOrNil(v.Y),
			Z:          finiteOrNil(v.Z),
			Confidence: v.Confidence,
		})

	case Velocity:
		if !v.Valid() {
			return []byte("null"), nil
		}
		return json.Marshal(float64(v))

	case Ambience:
		return json.Marshal(ambiencePayload{
			Temperature: finiteOrNil(v.Temperature),
			Humidity:    finiteOrNil(v.Humidity),
		})

	default:
		return nil, fmt.Errorf("unknown reading type %T", r)
	}
}

func unmarshalPayload(variant string, data json.RawMessage) (Reading, error) {
	switch variant {
	case "Imu":
		var p imuPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling Imu: %w", err)
		}
		var r Imu
		for i, q := range p.Quaternion {
			r.Quaternion[i] = valueOrNaN(q)
		}
		for i, a := range p.Acceleration {
			r.Acceleration[i] = valueOrNaN(a)
		}
		return r, nil

	case "Distance":
		var d *float32
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("unmarshaling Distance: %w", err)
		}
		if d == nil {
			return Distance(math.Inf(1)), nil
		}
		return Distance(*d), nil

	case "Gps":
		var p gpsPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling Gps: %w", err)
		}
		return Gps{X: valueOrNaN(p.X), Y: valueOrNaN(p.Y), Z: valueOrNaN(p.Z), Confidence: p.Confidence}, nil

	case "Velocity":
		var v *float64
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshaling Velocity: %w", err)
		}
		if v == nil {
			return Velocity(math.NaN()), nil
		}
		return Velocity(*v), nil

	case "Ambience":
		var p ambiencePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling Ambience: %w", err)
		}
		return Ambience{Temperature: valueOrNaN(p.Temperature), Humidity: valueOrNaN(p.Humidity)}, nil

	default:
		return nil, fmt.Errorf("unknown reading variant '%s'", variant)
	}
}

func finite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func finiteOrNil(f float32) *float32 {
	if !finite32(f) {
		return nil
	}
	return &f
}

func valueOrNaN(f *float32) float32 {
	if f == nil {
		return float32(math.NaN())
	}
	return *f
}
