package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/tarm/serial"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/sensor/ambience"
	"github.com/roman-kulish/rover-sensors/internal/sensor/gps"
	"github.com/roman-kulish/rover-sensors/internal/sensor/imu"
	"github.com/roman-kulish/rover-sensors/internal/sensor/ultrasonic"
	"github.com/roman-kulish/rover-sensors/internal/sensor/velocity"
)

var (
	errNoI2C  = errors.New("i2c bus not available")
	errNoGPIO = errors.New("gpio not available")
)

// hardware owns the transports shared by the sensor drivers. A transport
// that fails to open leaves its sensors unavailable rather than failing
// startup.
type hardware struct {
	config *SensorsConfig
	logger *slog.Logger

	i2c  embd.I2CBus
	gpio bool
}

func openHardware(config *SensorsConfig, logger *slog.Logger) *hardware {
	h := hardware{
		config: config,
		logger: logger,
	}

	if config.IMU.Enabled || config.Ambience.Enabled {
		if err := embd.InitI2C(); err != nil {
			logger.Error("failed to initialize i2c", slog.Any("error", err))
		} else {
			h.i2c = embd.NewI2CBus(config.I2CBus)
		}
	}

	if config.Ultrasonic.Enabled || config.StatusLED.Enabled {
		if err := rpio.Open(); err != nil {
			logger.Error("failed to initialize gpio", slog.Any("error", err))
		} else {
			h.gpio = true
		}
	}

	return &h
}

// factories returns a driver factory for every enabled sensor.
func (h *hardware) factories() map[sensor.Kind]manager.Factory {
	f := make(map[sensor.Kind]manager.Factory)

	if h.config.IMU.Enabled {
		f[sensor.KindImu] = h.newIMU
	}
	if h.config.Ultrasonic.Enabled {
		f[sensor.KindUltrasonic] = h.newUltrasonic
	}
	if h.config.GPS.Enabled {
		f[sensor.KindGps] = h.newGPS
	}
	if h.config.Velocity.Enabled {
		f[sensor.KindVelocity] = h.newVelocity
	}
	if h.config.Ambience.Enabled {
		f[sensor.KindAmbience] = h.newAmbience
	}

	return f
}

// cadences returns the manager options for per-sensor polling intervals.
func (h *hardware) cadences() []func(*manager.Manager) {
	return []func(*manager.Manager){
		manager.WithCadence(sensor.KindImu, h.config.IMU.Cadence.Duration()),
		manager.WithCadence(sensor.KindUltrasonic, h.config.Ultrasonic.Cadence.Duration()),
		manager.WithCadence(sensor.KindGps, h.config.GPS.Cadence.Duration()),
		manager.WithCadence(sensor.KindVelocity, h.config.Velocity.Cadence.Duration()),
		manager.WithCadence(sensor.KindAmbience, h.config.Ambience.Cadence.Duration()),
	}
}

func (h *hardware) driverLogger(kind sensor.Kind) *slog.Logger {
	return h.logger.With(slog.String("sensor", kind.String()))
}

func (h *hardware) newIMU(*bus.Channel) (sensor.Driver, error) {
	if h.i2c == nil {
		return nil, sensor.NewInitError(sensor.KindImu, errNoI2C)
	}

	options := []func(*imu.Sensor){
		imu.WithAddress(h.config.IMU.Address),
		imu.WithLogger(h.driverLogger(sensor.KindImu)),
	}
	if h.config.IMU.Profile != "" {
		options = append(options, imu.WithProfile(h.config.IMU.Profile))
	}

	return imu.New(h.i2c, options...)
}

func (h *hardware) newAmbience(*bus.Channel) (sensor.Driver, error) {
	if h.i2c == nil {
		return nil, sensor.NewInitError(sensor.KindAmbience, errNoI2C)
	}
	return ambience.New(h.i2c, ambience.WithLogger(h.driverLogger(sensor.KindAmbience)))
}

func (h *hardware) newUltrasonic(*bus.Channel) (sensor.Driver, error) {
	if !h.gpio {
		return nil, sensor.NewInitError(sensor.KindUltrasonic, errNoGPIO)
	}

	cfg := &h.config.Ultrasonic
	options := []func(*ultrasonic.Sensor){
		ultrasonic.WithTimeout(cfg.Timeout.Duration()),
		ultrasonic.WithLogger(h.driverLogger(sensor.KindUltrasonic)),
	}
	if cfg.Temperature != nil {
		options = append(options, ultrasonic.WithTemperature(*cfg.Temperature))
	}

	return ultrasonic.New(rpio.Pin(cfg.TriggerPin), rpio.Pin(cfg.EchoPin), options...)
}

func (h *hardware) newGPS(*bus.Channel) (sensor.Driver, error) {
	cfg := &h.config.GPS

	format, err := gps.ParseFormat(cfg.Format)
	if err != nil {
		return nil, sensor.NewInitError(sensor.KindGps, err)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout.Duration(),
	})
	if err != nil {
		return nil, sensor.NewInitError(sensor.KindGps, fmt.Errorf("opening %s: %w", cfg.Device, err))
	}

	d, err := gps.New(port, gps.WithFormat(format), gps.WithLogger(h.driverLogger(sensor.KindGps)))
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return d, nil
}

func (h *hardware) newVelocity(ch *bus.Channel) (sensor.Driver, error) {
	return velocity.New(ch, velocity.WithLogger(h.driverLogger(sensor.KindVelocity)))
}

// statusLED returns a session hook lighting the board LED while a session
// runs, or nil when the LED is disabled or GPIO is unavailable.
func (h *hardware) statusLED() func(active bool) {
	if !h.config.StatusLED.Enabled || !h.gpio {
		return nil
	}

	pin := rpio.Pin(h.config.StatusLED.Pin)
	pin.Output()
	pin.Low()

	return func(active bool) {
		if active {
			pin.High()
		} else {
			pin.Low()
		}
	}
}

func (h *hardware) Close() error {
	var errs []error

	if h.config.StatusLED.Enabled && h.gpio {
		rpio.Pin(h.config.StatusLED.Pin).Low()
	}

	if h.i2c != nil {
		if err := embd.CloseI2C(); err != nil {
			errs = append(errs, fmt.Errorf("closing i2c: %w", err))
		}
		h.i2c = nil
	}

	if h.gpio {
		if err := rpio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing gpio: %w", err))
		}
		h.gpio = false
	}

	return errors.Join(errs...)
}
