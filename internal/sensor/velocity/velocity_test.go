package velocity

import (
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func imu(forward float32) sensor.TimedReading {
	return sensor.TimedReading{
		Reading: sensor.Imu{Quaternion: [4]float32{1, 0, 0, 0}, Acceleration: [3]float32{forward, 0.3, 9.8}},
	}
}

func newSensor(t *testing.T) (*Sensor, *bus.Channel, *fakeClock) {
	t.Helper()

	ch := bus.New()
	clock := &fakeClock{now: time.Unix(100, 0)}

	s, err := New(ch, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Failed to create velocity sensor: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s, ch, clock
}

func velocityOf(t *testing.T, r sensor.Reading) float64 {
	t.Helper()

	v, ok := r.(sensor.Velocity)
	if !ok {
		t.Fatalf("Expected Velocity, got %T", r)
	}
	return float64(v)
}

func TestSensor_TrapezoidalIntegration(t *testing.T) {
	s, ch, clock := newSensor(t)
	s.OnSessionStart()

	samples := []float32{0, 1, 1}
	expected := []float64{0, 0.5, 1.5}

	for i, a := range samples {
		if i > 0 {
			clock.Advance(time.Second)
		}
		if err := ch.Publish(imu(a)); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}

		got := velocityOf(t, s.Read())
		if math.Abs(got-expected[i]) > 1e-9 {
			t.Errorf("Step %d: expected velocity %v, got %v", i, expected[i], got)
		}
	}
}

func TestSensor_Deadband(t *testing.T) {
	s, ch, clock := newSensor(t)
	s.OnSessionStart()

	for _, a := range []float32{0.004, -0.0049, 0.001, -0.004} {
		clock.Advance(10 * time.Second)
		_ = ch.Publish(imu(a))

		if got := velocityOf(t, s.Read()); got != 0 {
			t.Fatalf("Expected samples below the deadband to contribute nothing, got %v", got)
		}
	}
}

func TestSensor_OnSessionStartResets(t *testing.T) {
	s, ch, clock := newSensor(t)
	s.OnSessionStart()

	clock.Advance(time.Second)
	_ = ch.Publish(imu(2))
	if got := velocityOf(t, s.Read()); got != 1 {
		t.Fatalf("Expected velocity 1, got %v", got)
	}

	s.OnSessionStart()
	if s.lastVelocity != 0 || s.lastAcceleration != 0 {
		t.Errorf("Expected integrator reset, got velocity %v acceleration %v", s.lastVelocity, s.lastAcceleration)
	}
}

func TestSensor_KeepsSamplesPublishedBeforeSessionStart(t *testing.T) {
	s, ch, clock := newSensor(t)

	// the Imu loop may publish before the velocity loop runs its hook
	_ = ch.Publish(imu(4))
	s.OnSessionStart()

	if got := velocityOf(t, s.Read()); got != 0 {
		t.Fatalf("Expected velocity 0 on the first sample, got %v", got)
	}

	clock.Advance(time.Second)
	_ = ch.Publish(imu(4))
	if got := velocityOf(t, s.Read()); got != 4 {
		t.Errorf("Expected velocity 4 integrated from both samples, got %v", got)
	}
}

func TestSensor_ReadWithoutNewSamplesKeepsValue(t *testing.T) {
	s, ch, clock := newSensor(t)
	s.OnSessionStart()

	clock.Advance(time.Second)
	_ = ch.Publish(imu(1))
	first := velocityOf(t, s.Read())

	clock.Advance(time.Second)
	if got := velocityOf(t, s.Read()); got != first {
		t.Errorf("Expected unchanged velocity %v, got %v", first, got)
	}
}

func TestSensor_IgnoresOtherKindsAndInvalidSamples(t *testing.T) {
	s, ch, clock := newSensor(t)
	s.OnSessionStart()

	clock.Advance(time.Second)
	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Distance(10)})
	_ = ch.Publish(sensor.TimedReading{Reading: sensor.InvalidImu()})
	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Velocity(42)})

	if got := velocityOf(t, s.Read()); got != 0 {
		t.Errorf("Expected velocity 0, got %v", got)
	}
}

func TestNew_ClosedChannel(t *testing.T) {
	ch := bus.New()
	ch.Close()

	if _, err := New(ch); err == nil {
		t.Error("Expected an init error on a closed channel")
	}
}
