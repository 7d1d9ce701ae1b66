package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/broadcast"
	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor/ultrasonic"
)

const sampleConfig = `
settings:
  logLevel: debug
  listen: ":9090"
  metrics: true
bus:
  capacity: 64
  overflow: drop-newest
sensors:
  failureThreshold: 10
  imu:
    enabled: true
    cadence: 10ms
    profile: bno055.yaml
  ultrasonic:
    enabled: true
    temperature: 30
  gps:
    enabled: true
    format: nmea
    baudRate: 9600
  velocity:
    enabled: true
recorder:
  enabled: true
  flushInterval: 2s
broadcast:
  enabled: true
  interval: 100ms
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if c.Settings.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %s", c.Settings.LogLevel)
	}
	if c.Settings.Listen != ":9090" {
		t.Errorf("Expected listen :9090, got %s", c.Settings.Listen)
	}
	if c.Bus.Capacity != 64 || c.Bus.Overflow != "drop-newest" {
		t.Errorf("Unexpected bus config %+v", c.Bus)
	}
	if got := c.Sensors.IMU.Cadence.Duration(); got != 10*time.Millisecond {
		t.Errorf("Expected imu cadence 10ms, got %s", got)
	}
	if c.Sensors.Ultrasonic.Temperature == nil || *c.Sensors.Ultrasonic.Temperature != 30 {
		t.Errorf("Expected ultrasonic temperature 30, got %v", c.Sensors.Ultrasonic.Temperature)
	}
	if c.Sensors.GPS.BaudRate != 9600 || c.Sensors.GPS.Device != defaultGPSDevice {
		t.Errorf("Unexpected gps config %+v", c.Sensors.GPS)
	}
	if got := c.Recorder.FlushInterval.Duration(); got != 2*time.Second {
		t.Errorf("Expected flush interval 2s, got %s", got)
	}
	if got := c.Broadcast.Interval.Duration(); got != 100*time.Millisecond {
		t.Errorf("Expected broadcast interval 100ms, got %s", got)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	c, err := ParseConfig([]byte("{}"))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if c.Settings.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level, got %s", c.Settings.LogLevel)
	}
	if c.Settings.Listen != defaultListen {
		t.Errorf("Expected listen %s, got %s", defaultListen, c.Settings.Listen)
	}
	if c.Bus.Capacity != bus.DefaultCapacity {
		t.Errorf("Expected capacity %d, got %d", bus.DefaultCapacity, c.Bus.Capacity)
	}
	if got := c.Sensors.Velocity.Cadence.Duration(); got != manager.DefaultCadence {
		t.Errorf("Expected velocity cadence %s, got %s", manager.DefaultCadence, got)
	}
	if c.Sensors.GPS.Cadence != 0 {
		t.Errorf("Expected gps to be paced by its reads, got %s", c.Sensors.GPS.Cadence.Duration())
	}
	if c.Sensors.Ultrasonic.TriggerPin != ultrasonic.DefaultTriggerPin {
		t.Errorf("Expected trigger pin %d, got %d", ultrasonic.DefaultTriggerPin, c.Sensors.Ultrasonic.TriggerPin)
	}
	if c.Broadcast.Port != broadcast.DefaultPort {
		t.Errorf("Expected broadcast port %d, got %d", broadcast.DefaultPort, c.Broadcast.Port)
	}
	if c.Recorder.DataDirectory != defaultDataDirectory || c.Recorder.MinFreeMB != defaultMinFreeMB {
		t.Errorf("Unexpected recorder config %+v", c.Recorder)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"overflow", "bus: {overflow: drop-all}", "bus.overflow"},
		{"gps format", "sensors: {gps: {format: sirf}}", "sensors.gps.format"},
		{"threshold", "sensors: {failureThreshold: -1}", "sensors.failureThreshold"},
		{"shared pin", "sensors: {ultrasonic: {triggerPin: 5, echoPin: 5}}", "share pin 5"},
		{"port", "broadcast: {port: 70000}", "broadcast.port"},
		{"log file", "settings: {logFile: {maxBackups: 3}}", "settings.logFile.path"},
		{"duration", "broadcast: {interval: soon}", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !c.Recorder.Enabled {
		t.Error("Expected recorder enabled")
	}

	if _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestCreateStorage(t *testing.T) {
	dir := t.TempDir()

	store, got, err := createStorage(&RecorderConfig{DataDirectory: dir})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	if got != dir {
		t.Errorf("Expected data directory %s, got %s", dir, got)
	}

	if _, _, err = createStorage(&RecorderConfig{DataDirectory: filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected an error for a missing directory")
	}
}
