package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/carstate"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeManager struct {
	ch       *bus.Channel
	startErr error

	mu         sync.Mutex
	starts     int
	stops      int
	calibrated []sensor.Kind
	last       *bus.Cursor
}

func (m *fakeManager) StartSession() (*bus.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return nil, m.startErr
	}
	c, err := m.ch.Subscribe()
	if err != nil {
		return nil, err
	}
	m.starts++
	m.last = c
	return c, nil
}

func (m *fakeManager) StopSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeManager) StartTime() time.Time {
	return time.Unix(1700000000, 0)
}

func (m *fakeManager) PersistCalibration(kind sensor.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrated = append(m.calibrated, kind)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	labels []string
	done   chan string
}

func (r *fakeRecorder) Record(ctx context.Context, cursor *bus.Cursor, _ time.Time, label string) (int64, error) {
	r.mu.Lock()
	r.labels = append(r.labels, label)
	r.mu.Unlock()

	select {
	case <-cursor.Done():
	case <-ctx.Done():
	}

	r.done <- label
	return 1, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	config bool
	kinds  []sensor.Kind
}

func (b *fakeBroadcaster) SetConfigMode(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = enabled
}

func (b *fakeBroadcaster) SetTarget(_ net.Addr, kinds []sensor.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kinds = kinds
}

func (b *fakeBroadcaster) Target() (net.Addr, []sensor.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return nil, b.kinds
}

func (b *fakeBroadcaster) configMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

func awaitLabel(t *testing.T, done <-chan string, want string) {
	t.Helper()

	select {
	case got := <-done:
		if got != want {
			t.Errorf("Expected recording %q to finish, got %q", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for recording %q to finish", want)
	}
}

func TestOrchestrator_DrivingRecordsSession(t *testing.T) {
	m := &fakeManager{ch: bus.New()}
	rec := &fakeRecorder{done: make(chan string, 4)}
	o := NewOrchestrator(context.Background(), m, discard, WithRecorder(rec))

	if o.Mode() != carstate.Standby {
		t.Fatalf("Expected initial mode Standby, got %s", o.Mode())
	}

	if err := o.SetMode(context.Background(), carstate.RemoteControlled); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	if err := o.SetMode(context.Background(), carstate.RemoteControlled); err != nil {
		t.Fatalf("Failed to set the same mode: %v", err)
	}
	if m.starts != 1 {
		t.Errorf("Expected 1 session start, got %d", m.starts)
	}

	if err := o.SetMode(context.Background(), carstate.Standby); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	awaitLabel(t, rec.done, "RemoteControlled")

	if m.stops != 1 {
		t.Errorf("Expected 1 session stop, got %d", m.stops)
	}

	if err := o.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
}

func TestOrchestrator_SwitchingDrivingModesRestartsSession(t *testing.T) {
	m := &fakeManager{ch: bus.New()}
	rec := &fakeRecorder{done: make(chan string, 4)}
	o := NewOrchestrator(context.Background(), m, discard, WithRecorder(rec))

	_ = o.SetMode(context.Background(), carstate.RemoteControlled)
	if err := o.SetMode(context.Background(), carstate.AutonomousControlled); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	awaitLabel(t, rec.done, "RemoteControlled")

	if m.starts != 2 || m.stops != 1 {
		t.Errorf("Expected 2 starts and 1 stop, got %d and %d", m.starts, m.stops)
	}

	if err := o.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
	awaitLabel(t, rec.done, "AutonomousControlled")

	if o.Mode() != carstate.Standby {
		t.Errorf("Expected Standby after close, got %s", o.Mode())
	}
}

func TestOrchestrator_ConfigMode(t *testing.T) {
	m := &fakeManager{ch: bus.New()}
	b := &fakeBroadcaster{kinds: []sensor.Kind{sensor.KindImu, sensor.KindGps}}
	o := NewOrchestrator(context.Background(), m, discard, WithBroadcaster(b))

	if err := o.SetMode(context.Background(), carstate.Config); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	if !b.configMode() {
		t.Error("Expected broadcaster in config mode")
	}
	if m.starts != 0 {
		t.Errorf("Expected no session in Config mode, got %d", m.starts)
	}

	if err := o.SetMode(context.Background(), carstate.Standby); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	if b.configMode() {
		t.Error("Expected broadcaster out of config mode")
	}
	if len(m.calibrated) != 1 || m.calibrated[0] != sensor.KindImu {
		t.Errorf("Expected Imu calibration persisted, got %v", m.calibrated)
	}
}

func TestOrchestrator_SwitchingStreamInConfigPersistsCalibration(t *testing.T) {
	m := &fakeManager{ch: bus.New()}
	b := &fakeBroadcaster{}
	o := NewOrchestrator(context.Background(), m, discard, WithBroadcaster(b))

	o.SetTarget(nil, []sensor.Kind{sensor.KindGps})
	if len(m.calibrated) != 0 {
		t.Fatalf("Expected no calibration persisted outside Config, got %v", m.calibrated)
	}

	if err := o.SetMode(context.Background(), carstate.Config); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}
	o.SetTarget(nil, []sensor.Kind{sensor.KindImu})
	o.SetTarget(nil, []sensor.Kind{sensor.KindGps})
	if err := o.SetMode(context.Background(), carstate.Standby); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}

	expected := []sensor.Kind{sensor.KindGps, sensor.KindImu, sensor.KindGps}
	if len(m.calibrated) != len(expected) {
		t.Fatalf("Expected calibrations %v, got %v", expected, m.calibrated)
	}
	for i, kind := range expected {
		if m.calibrated[i] != kind {
			t.Errorf("Expected calibration %d for %s, got %s", i, kind, m.calibrated[i])
		}
	}

	if _, kinds := b.Target(); len(kinds) != 1 || kinds[0] != sensor.KindGps {
		t.Errorf("Expected Gps target, got %v", kinds)
	}
}

func TestOrchestrator_StartFailureFallsBackToStandby(t *testing.T) {
	m := &fakeManager{ch: bus.New(), startErr: errors.New("boom")}
	o := NewOrchestrator(context.Background(), m, discard)

	if err := o.SetMode(context.Background(), carstate.AutonomousControlled); err == nil {
		t.Fatal("Expected an error")
	}
	if o.Mode() != carstate.Standby {
		t.Errorf("Expected Standby, got %s", o.Mode())
	}
}

func TestOrchestrator_WithoutRecorderClosesCursor(t *testing.T) {
	m := &fakeManager{ch: bus.New()}
	o := NewOrchestrator(context.Background(), m, discard)

	if err := o.SetMode(context.Background(), carstate.RemoteControlled); err != nil {
		t.Fatalf("Failed to set mode: %v", err)
	}

	select {
	case <-m.last.Done():
	default:
		t.Error("Expected the session cursor to be closed")
	}
}
