package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

func listen(t *testing.T) net.PacketConn {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}

	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("Failed to receive datagram: %v", err)
	}
	return buf[:n]
}

func start(t *testing.T, b *UDPBroadcaster, cursor *bus.Cursor) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, cursor) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestUDPBroadcaster_SendsLatestSelected(t *testing.T) {
	sender, receiver := listen(t), listen(t)

	ch := bus.New()
	cursor, err := ch.Subscribe()
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	b := New(sender, WithInterval(5*time.Millisecond))
	b.SetTarget(receiver.LocalAddr(), []sensor.Kind{sensor.KindVelocity, sensor.KindUltrasonic})

	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Distance(1), Timestamp: time.Millisecond})
	_ = ch.Publish(sensor.TimedReading{Reading: testImu(), Timestamp: 2 * time.Millisecond})
	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Distance(2), Timestamp: 3 * time.Millisecond})
	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Velocity(0.75), Timestamp: 4 * time.Millisecond})

	start(t, b, cursor)

	got := make(map[sensor.Kind]sensor.TimedReading)
	for i := 0; i < 2; i++ {
		var r sensor.TimedReading
		if err = json.Unmarshal(receive(t, receiver), &r); err != nil {
			t.Fatalf("Failed to decode datagram: %v", err)
		}
		got[r.Kind()] = r
	}

	if r := got[sensor.KindUltrasonic]; r.Reading != sensor.Distance(2) || r.Timestamp != 3*time.Millisecond {
		t.Errorf("Expected latest distance 2 at 3ms, got %v at %s", r.Reading, r.Timestamp)
	}
	if r := got[sensor.KindVelocity]; r.Reading != sensor.Velocity(0.75) {
		t.Errorf("Expected velocity 0.75, got %v", r.Reading)
	}
	if _, ok := got[sensor.KindImu]; ok {
		t.Error("Expected unselected Imu readings to be skipped")
	}
}

func TestUDPBroadcaster_NoTarget(t *testing.T) {
	sender := listen(t)

	ch := bus.New()
	cursor, err := ch.Subscribe()
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	b := New(sender, WithInterval(time.Millisecond))
	start(t, b, cursor)

	_ = ch.Publish(sensor.TimedReading{Reading: sensor.Distance(1)})
	time.Sleep(20 * time.Millisecond)

	if b.Sent() != 0 {
		t.Errorf("Expected nothing sent without a target, got %d", b.Sent())
	}
}

type fakeDebug struct{}

func (fakeDebug) DebugSnapshot(kind sensor.Kind) (string, error) {
	if kind != sensor.KindImu {
		return "", errors.New("not available")
	}
	return "calibration: sys=3 gyr=3 acc=2 mag=1", nil
}

func TestUDPBroadcaster_ConfigMode(t *testing.T) {
	sender, receiver := listen(t), listen(t)

	ch := bus.New()
	cursor, err := ch.Subscribe()
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	b := New(sender, WithInterval(5*time.Millisecond), WithDebugSource(fakeDebug{}))
	b.SetTarget(receiver.LocalAddr(), []sensor.Kind{sensor.KindImu})
	b.SetConfigMode(true)

	start(t, b, cursor)

	var msg struct {
		Sensor string `json:"sensor"`
		Debug  string `json:"debug"`
	}
	if err = json.Unmarshal(receive(t, receiver), &msg); err != nil {
		t.Fatalf("Failed to decode datagram: %v", err)
	}
	if msg.Sensor != "Imu" || msg.Debug != "calibration: sys=3 gyr=3 acc=2 mag=1" {
		t.Errorf("Unexpected debug datagram: %+v", msg)
	}
}

func TestUDPBroadcaster_StopsOnClosedCursor(t *testing.T) {
	ch := bus.New()
	cursor, err := ch.Subscribe()
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	cursor.Close()

	if err = New(listen(t)).Run(context.Background(), cursor); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func testImu() sensor.Imu {
	return sensor.Imu{Quaternion: [4]float32{1, 0, 0, 0}}
}
