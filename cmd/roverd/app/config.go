package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rover-sensors/internal/broadcast"
	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor/gps"
	"github.com/roman-kulish/rover-sensors/internal/sensor/imu"
	"github.com/roman-kulish/rover-sensors/internal/sensor/ultrasonic"
)

const (
	defaultListen        = ":8080"
	defaultI2CBus        = 1
	defaultStatusLEDPin  = 25
	defaultGPSDevice     = "/dev/ttyACM0"
	defaultGPSTimeout    = 500 * time.Millisecond
	defaultDataDirectory = "data"
	defaultMinFreeMB     = 50
	defaultLogSizeMB     = 10
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Bus       BusConfig       `yaml:"bus"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
	LogFile  *LogFile   `yaml:"logFile"`
	Listen   string     `yaml:"listen"`
	Metrics  bool       `yaml:"metrics"`
}

// LogFile enables a rotated log file next to stdout
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// BusConfig configures the sensor channel
type BusConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// SensorsConfig represents the hardware layout of the car
type SensorsConfig struct {
	I2CBus           byte             `yaml:"i2cBus"`
	FailureThreshold int              `yaml:"failureThreshold"`
	IMU              IMUConfig        `yaml:"imu"`
	Ultrasonic       UltrasonicConfig `yaml:"ultrasonic"`
	GPS              GPSConfig        `yaml:"gps"`
	Ambience         SensorConfig     `yaml:"ambience"`
	Velocity         SensorConfig     `yaml:"velocity"`
	StatusLED        StatusLEDConfig  `yaml:"statusLed"`
}

// SensorConfig holds the settings shared by every sensor
type SensorConfig struct {
	Enabled bool         `yaml:"enabled"`
	Cadence TimeDuration `yaml:"cadence"`
}

type IMUConfig struct {
	SensorConfig `yaml:",inline"`
	Address      byte   `yaml:"address"`
	Profile      string `yaml:"profile"`
}

type UltrasonicConfig struct {
	SensorConfig `yaml:",inline"`
	TriggerPin   int          `yaml:"triggerPin"`
	EchoPin      int          `yaml:"echoPin"`
	Temperature  *float64     `yaml:"temperature"`
	Timeout      TimeDuration `yaml:"timeout"`
}

type GPSConfig struct {
	SensorConfig `yaml:",inline"`
	Device       string       `yaml:"device"`
	BaudRate     int          `yaml:"baudRate"`
	Format       string       `yaml:"format"`
	ReadTimeout  TimeDuration `yaml:"readTimeout"`
}

type StatusLEDConfig struct {
	Enabled bool `yaml:"enabled"`
	Pin     int  `yaml:"pin"`
}

// RecorderConfig represents session recording settings
type RecorderConfig struct {
	Enabled       bool         `yaml:"enabled"`
	DataDirectory string       `yaml:"dataDirectory"`
	MaxBatchSize  int          `yaml:"maxBatchSize"`
	FlushInterval TimeDuration `yaml:"flushInterval"`
	MinFreeMB     uint64       `yaml:"minFreeMB"`
}

// BroadcastConfig represents UDP streaming settings
type BroadcastConfig struct {
	Enabled  bool         `yaml:"enabled"`
	Port     int          `yaml:"port"`
	Interval TimeDuration `yaml:"interval"`
}

type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadConfig reads the YAML file at path, applies defaults and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	return ParseConfig(p)
}

// ParseConfig decodes a YAML document into a Config.
func ParseConfig(p []byte) (*Config, error) {
	c := Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo,
		},
	}

	if err := yaml.Unmarshal(p, &c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	c.setDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Settings.Listen == "" {
		c.Settings.Listen = defaultListen
	}

	if c.Bus.Capacity == 0 {
		c.Bus.Capacity = bus.DefaultCapacity
	}

	s := &c.Sensors
	if s.I2CBus == 0 {
		s.I2CBus = defaultI2CBus
	}
	for _, sc := range []*SensorConfig{&s.IMU.SensorConfig, &s.Ultrasonic.SensorConfig, &s.Ambience, &s.Velocity} {
		if sc.Cadence == 0 {
			sc.Cadence = TimeDuration(manager.DefaultCadence)
		}
	}
	if s.IMU.Address == 0 {
		s.IMU.Address = imu.DefaultAddress
	}
	if s.Ultrasonic.TriggerPin == 0 {
		s.Ultrasonic.TriggerPin = ultrasonic.DefaultTriggerPin
	}
	if s.Ultrasonic.EchoPin == 0 {
		s.Ultrasonic.EchoPin = ultrasonic.DefaultEchoPin
	}
	if s.Ultrasonic.Timeout == 0 {
		s.Ultrasonic.Timeout = TimeDuration(ultrasonic.DefaultTimeout)
	}
	if s.GPS.Device == "" {
		s.GPS.Device = defaultGPSDevice
	}
	if s.GPS.BaudRate == 0 {
		s.GPS.BaudRate = gps.DefaultBaudRate
	}
	if s.GPS.ReadTimeout == 0 {
		s.GPS.ReadTimeout = TimeDuration(defaultGPSTimeout)
	}
	if s.StatusLED.Pin == 0 {
		s.StatusLED.Pin = defaultStatusLEDPin
	}

	if c.Recorder.DataDirectory == "" {
		c.Recorder.DataDirectory = defaultDataDirectory
	}
	if c.Recorder.MinFreeMB == 0 {
		c.Recorder.MinFreeMB = defaultMinFreeMB
	}

	if c.Settings.LogFile != nil && c.Settings.LogFile.MaxSizeMB == 0 {
		c.Settings.LogFile.MaxSizeMB = defaultLogSizeMB
	}

	if c.Broadcast.Port == 0 {
		c.Broadcast.Port = broadcast.DefaultPort
	}
	if c.Broadcast.Interval == 0 {
		c.Broadcast.Interval = TimeDuration(broadcast.DefaultInterval)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Bus.Capacity < 1 {
		errs = append(errs, fmt.Errorf("bus.capacity must be positive, got %d", c.Bus.Capacity))
	}
	if _, err := bus.ParseOverflowPolicy(c.Bus.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("bus.overflow: %w", err))
	}
	if _, err := gps.ParseFormat(c.Sensors.GPS.Format); err != nil {
		errs = append(errs, fmt.Errorf("sensors.gps.format: %w", err))
	}
	if c.Sensors.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("sensors.failureThreshold must not be negative, got %d", c.Sensors.FailureThreshold))
	}
	if c.Sensors.Ultrasonic.TriggerPin == c.Sensors.Ultrasonic.EchoPin {
		errs = append(errs, fmt.Errorf("sensors.ultrasonic: trigger and echo share pin %d", c.Sensors.Ultrasonic.EchoPin))
	}
	if c.Recorder.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("recorder.maxBatchSize must not be negative, got %d", c.Recorder.MaxBatchSize))
	}
	if c.Settings.LogFile != nil && c.Settings.LogFile.Path == "" {
		errs = append(errs, errors.New("settings.logFile.path is required"))
	}
	if c.Broadcast.Port < 1 || c.Broadcast.Port > 65535 {
		errs = append(errs, fmt.Errorf("broadcast.port out of range: %d", c.Broadcast.Port))
	}

	return errors.Join(errs...)
}
