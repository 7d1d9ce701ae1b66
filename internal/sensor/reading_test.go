package sensor

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"imu", KindImu},
		{"IMU", KindImu},
		{"Ultrasonic", KindUltrasonic},
		{"gps", KindGps},
		{" velocity ", KindVelocity},
		{"AMBIENCE", KindAmbience},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Fatalf("ParseKind(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}

	if _, err := ParseKind("lidar"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Expected ErrInvalidKind, got %v", err)
	}
}

func TestKind_TextRoundTrip(t *testing.T) {
	payload, err := json.Marshal(map[Kind]bool{KindImu: true, KindGps: false})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if string(payload) != `{"Gps":false,"Imu":true}` {
		t.Errorf("Unexpected payload: %s", payload)
	}

	var kinds []Kind
	if err = json.Unmarshal([]byte(`["imu","Ultrasonic","gPs"]`), &kinds); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	expected := []Kind{KindImu, KindUltrasonic, KindGps}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Errorf("Index %d: expected %s, got %s", i, expected[i], kinds[i])
		}
	}
}

func TestTimedReading_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		reading  TimedReading
		expected string
	}{
		{
			name: "imu",
			reading: TimedReading{
				Reading:   Imu{Quaternion: [4]float32{1, 0, 0, 0}, Acceleration: [3]float32{0.5, 0, -1}},
				Timestamp: 1234 * time.Millisecond,
			},
			expected: `{"Imu":{"quaternion":[1,0,0,0],"acceleration":[0.5,0,-1]},"timestamp_ms":1234}`,
		},
		{
			name:     "distance",
			reading:  TimedReading{Reading: Distance(42.5), Timestamp: 20 * time.Millisecond},
			expected: `{"Distance":42.5,"timestamp_ms":20}`,
		},
		{
			name:     "infinite distance",
			reading:  TimedReading{Reading: Distance(math.Inf(1)), Timestamp: 0},
			expected: `{"Distance":null,"timestamp_ms":0}`,
		},
		{
			name:     "gps",
			reading:  TimedReading{Reading: Gps{X: 1, Y: 2, Z: 3, Confidence: 80}, Timestamp: time.Second},
			expected: `{"Gps":{"x":1,"y":2,"z":3,"confidence":80},"timestamp_ms":1000}`,
		},
		{
			name:     "velocity",
			reading:  TimedReading{Reading: Velocity(1.5), Timestamp: 3 * time.Second},
			expected: `{"Velocity":1.5,"timestamp_ms":3000}`,
		},
		{
			name:     "invalid ambience",
			reading:  TimedReading{Reading: InvalidAmbience(), Timestamp: 5 * time.Millisecond},
			expected: `{"Ambience":{"temperature":null,"humidity":null},"timestamp_ms":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.reading)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestTimedReading_UnmarshalJSON(t *testing.T) {
	var r TimedReading
	err := json.Unmarshal([]byte(`{"timestamp_ms": 250, "Ambience": {"temperature": 21.5, "humidity": null}}`), &r)
	if err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	amb, ok := r.Reading.(Ambience)
	if !ok {
		t.Fatalf("Expected Ambience, got %T", r.Reading)
	}
	if amb.Temperature != 21.5 {
		t.Errorf("Expected temperature 21.5, got %v", amb.Temperature)
	}
	if !math.IsNaN(float64(amb.Humidity)) {
		t.Errorf("Expected NaN humidity, got %v", amb.Humidity)
	}
	if r.Timestamp != 250*time.Millisecond {
		t.Errorf("Expected timestamp 250ms, got %v", r.Timestamp)
	}
	if r.Kind() != KindAmbience {
		t.Errorf("Expected kind Ambience, got %s", r.Kind())
	}
}

func TestTimedReading_UnmarshalJSONRejectsMultipleVariants(t *testing.T) {
	var r TimedReading
	err := json.Unmarshal([]byte(`{"timestamp_ms": 1, "Distance": 1, "Velocity": 2}`), &r)
	if err == nil || !strings.Contains(err.Error(), "exactly one variant") {
		t.Errorf("Expected a variant count error, got %v", err)
	}
}

func TestReading_Valid(t *testing.T) {
	tests := []struct {
		reading Reading
		valid   bool
	}{
		{Imu{}, true},
		{InvalidImu(), false},
		{Distance(10), true},
		{Distance(math.Inf(1)), false},
		{Gps{X: 1}, true},
		{InvalidGps(), false},
		{Velocity(0), true},
		{Velocity(math.NaN()), false},
		{Ambience{Temperature: 20, Humidity: 40}, true},
		{InvalidAmbience(), false},
	}

	for _, tt := range tests {
		if got := tt.reading.Valid(); got != tt.valid {
			t.Errorf("%s: expected valid=%v, got %v", tt.reading, tt.valid, got)
		}
	}
}

type stubDriver struct {
	reading Reading
	started int
}

func (d *stubDriver) Kind() Kind      { return d.reading.Kind() }
func (d *stubDriver) Read() Reading   { return d.reading }
func (d *stubDriver) OnSessionStart() { d.started++ }

func TestDriverDefaults(t *testing.T) {
	d := &stubDriver{reading: Distance(12)}

	OnSessionStart(d)
	if d.started != 1 {
		t.Errorf("Expected session hook to run once, got %d", d.started)
	}

	start := time.Now().Add(-time.Second)
	timed := ReadWithTimestamp(d, start)
	if timed.Timestamp < time.Second {
		t.Errorf("Expected timestamp relative to start of at least 1s, got %v", timed.Timestamp)
	}
	if timed.Reading != Distance(12) {
		t.Errorf("Expected Distance(12), got %v", timed.Reading)
	}

	if snapshot := DebugSnapshot(d); snapshot != "Distance(12)" {
		t.Errorf("Expected default debug snapshot 'Distance(12)', got '%s'", snapshot)
	}
	if err := PersistCalibration(d); err != nil {
		t.Errorf("Expected default calibration persistence to succeed, got %v", err)
	}
}
