package telemetry

import (
	"math"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// Telemetry is the latest known state of the car sensors
type Telemetry struct {
	Timestamp   time.Time `json:"timestamp"`             // Wall-clock time of the last update
	SessionTime int64     `json:"sessionTimeMs"`         // Timestamp of the last reading since session start, in milliseconds
	Roll        *float64  `json:"roll,omitempty"`        // Roll angle in degrees
	Pitch       *float64  `json:"pitch,omitempty"`       // Pitch angle in degrees
	Yaw         *float64  `json:"yaw,omitempty"`         // Yaw angle in degrees
	AccelX      *float64  `json:"accelX,omitempty"`      // Forward linear acceleration in m/s²
	AccelY      *float64  `json:"accelY,omitempty"`      // Lateral linear acceleration in m/s²
	AccelZ      *float64  `json:"accelZ,omitempty"`      // Vertical linear acceleration in m/s²
	Distance    *float64  `json:"distance,omitempty"`    // Obstacle distance in centimeters
	X           *float64  `json:"x,omitempty"`           // Position X (or latitude)
	Y           *float64  `json:"y,omitempty"`           // Position Y (or longitude)
	Z           *float64  `json:"z,omitempty"`           // Position Z (or altitude)
	Confidence  *int64    `json:"confidence,omitempty"`  // Position quality, 0..100
	Velocity    *float64  `json:"velocity,omitempty"`    // Forward velocity in m/s
	Temperature *float64  `json:"temperature,omitempty"` // Air temperature in °C
	Humidity    *float64  `json:"humidity,omitempty"`    // Relative humidity in %
}

// apply copies the fields carried by r into t. Invalid readings leave t as is.
func (t *Telemetry) apply(r sensor.Reading) bool {
	if !r.Valid() {
		return false
	}

	switch v := r.(type) {
	case sensor.Imu:
		roll, pitch, yaw := EulerAngles(v.Quaternion)
		t.Roll, t.Pitch, t.Yaw = &roll, &pitch, &yaw
		t.AccelX = ptr(float64(v.Acceleration[0]))
		t.AccelY = ptr(float64(v.Acceleration[1]))
		t.AccelZ = ptr(float64(v.Acceleration[2]))

	case sensor.Distance:
		t.Distance = ptr(float64(v))

	case sensor.Gps:
		t.X = ptr(float64(v.X))
		t.Y = ptr(float64(v.Y))
		t.Z = ptr(float64(v.Z))
		t.Confidence = ptr(int64(v.Confidence))

	case sensor.Velocity:
		t.Velocity = ptr(float64(v))

	case sensor.Ambience:
		t.Temperature = ptr(float64(v.Temperature))
		t.Humidity = ptr(float64(v.Humidity))

	default:
		return false
	}

	return true
}

// EulerAngles converts a w, x, y, z unit quaternion to roll, pitch and yaw in
// degrees.
func EulerAngles(q [4]float32) (roll, pitch, yaw float64) {
	w, x, y, z := float64(q[0]), float64(q[1]), float64(q[2]), float64(q[3])

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	switch {
	case sinp >= 1:
		pitch = math.Pi / 2
	case sinp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sinp)
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	const deg = 180 / math.Pi
	return roll * deg, pitch * deg, yaw * deg
}

func ptr[T any](v T) *T {
	return &v
}
