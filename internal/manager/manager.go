// Package manager owns the sensor drivers and runs one polling loop per
// driver while a session is active.
//
// The manager is either Idle, holding every driver so it can be read or
// calibrated directly, or Active, with every driver loaned to its polling
// loop. A driver is never reused across sessions: when a session stops the
// manager closes the loaned instances and builds fresh ones.
package manager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/session"
)

// DefaultCadence is the pause between two reads of the same sensor.
const DefaultCadence = 20 * time.Millisecond

var (
	// ErrSessionActive is returned when an operation requires the Idle state.
	ErrSessionActive = errors.New("sensor session is active")

	// ErrUnknownKind is returned for a sensor kind that is not available.
	ErrUnknownKind = errors.New("sensor not available")

	// ErrNoSensors is returned when a session would run without any driver.
	ErrNoSensors = errors.New("no sensors available")
)

// Factory constructs a driver. It receives the sensor channel so that derived
// sensors can subscribe to it.
type Factory func(ch *bus.Channel) (sensor.Driver, error)

// LoopObserver receives polling loop events, typically to export them as
// metrics.
type LoopObserver interface {
	ObserveRead(kind sensor.Kind, valid bool)
	ObserveSession(active bool)
}

// WithLogger sets the logger for the manager and its loops.
func WithLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithChannel sets the channel readings are published to. By default the
// manager creates its own.
func WithChannel(ch *bus.Channel) func(*Manager) {
	return func(m *Manager) {
		m.channel = ch
	}
}

// WithController sets the session controller shared with other components.
func WithController(c *session.Controller) func(*Manager) {
	return func(m *Manager) {
		m.controller = c
	}
}

// WithCadence overrides the pause between reads for one kind. Zero means the
// driver's own blocking read paces the loop.
func WithCadence(kind sensor.Kind, d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.cadence[kind] = d
	}
}

// WithFailureThreshold stops a loop after n consecutive invalid readings.
// Zero, the default, keeps loops running regardless.
func WithFailureThreshold(n int) func(*Manager) {
	return func(m *Manager) {
		m.failureThreshold = n
	}
}

// WithObserver attaches a loop observer.
func WithObserver(o LoopObserver) func(*Manager) {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithStatusHook registers a function called after every session transition.
func WithStatusHook(hook func(active bool)) func(*Manager) {
	return func(m *Manager) {
		m.statusHook = hook
	}
}

// Manager composes the drivers, the sensor channel and the session
// controller into one control surface.
type Manager struct {
	channel          *bus.Channel
	controller       *session.Controller
	factories        map[sensor.Kind]Factory
	cadence          map[sensor.Kind]time.Duration
	failureThreshold int
	observer         LoopObserver
	statusHook       func(active bool)
	logger           *slog.Logger

	mu       sync.Mutex
	state    state
	sessions uint64
}

// New constructs every driver and returns an Idle manager. Drivers that fail
// to initialize are logged and left out for the lifetime of the manager.
func New(factories map[sensor.Kind]Factory, options ...func(*Manager)) *Manager {
	m := Manager{
		factories: make(map[sensor.Kind]Factory, len(factories)),
		cadence: map[sensor.Kind]time.Duration{
			sensor.KindImu:        DefaultCadence,
			sensor.KindUltrasonic: DefaultCadence,
			sensor.KindGps:        0,
			sensor.KindVelocity:   DefaultCadence,
			sensor.KindAmbience:   DefaultCadence,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for kind, f := range factories {
		m.factories[kind] = f
	}

	for _, option := range options {
		option(&m)
	}

	if m.channel == nil {
		m.channel = bus.New()
	}
	if m.controller == nil {
		m.controller = session.New()
	}

	m.state = &idleState{drivers: m.construct()}

	return &m
}

// construct builds one driver per remaining factory. A failing factory is
// dropped so the kind stays absent from then on.
func (m *Manager) construct() map[sensor.Kind]sensor.Driver {
	drivers := make(map[sensor.Kind]sensor.Driver, len(m.factories))

	for _, kind := range sensor.Kinds() {
		factory, ok := m.factories[kind]
		if !ok {
			continue
		}

		d, err := factory(m.channel)
		if err == nil && d.Kind() != kind {
			err = fmt.Errorf("factory for %s built a %s driver", kind, d.Kind())
		}
		if err != nil {
			m.logger.Error("sensor unavailable", slog.String("sensor", kind.String()), slog.Any("error", err))
			delete(m.factories, kind)
			continue
		}

		drivers[kind] = d
	}

	return drivers
}

// Channel returns the channel readings are published to.
func (m *Manager) Channel() *bus.Channel {
	return m.channel
}

// Controller returns the shared session controller.
func (m *Manager) Controller() *session.Controller {
	return m.controller
}

// Subscribe creates a new cursor on the sensor channel.
func (m *Manager) Subscribe() (*bus.Cursor, error) {
	return m.channel.Subscribe()
}

// IsActive reports whether a session is running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.state.(*activeState)
	return ok
}

// StartTime returns the start of the current or last session.
func (m *Manager) StartTime() time.Time {
	return m.controller.StartTime()
}

// StartSession loans every driver to a new polling loop and returns a fresh
// subscription to the sensor channel. It fails with ErrNoSensors when every
// driver failed to initialize.
func (m *Manager) StartSession() (*bus.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle, ok := m.state.(*idleState)
	if !ok {
		return nil, ErrSessionActive
	}
	if len(idle.drivers) == 0 {
		return nil, ErrNoSensors
	}

	cursor, err := m.channel.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribing to sensor channel: %w", err)
	}

	m.controller.SetActive(true)
	_, start, done := m.controller.Current()

	active := activeState{
		start: start,
		loops: make(map[sensor.Kind]*loop, len(idle.drivers)),
	}

	for kind, d := range idle.drivers {
		l := newLoop(d, m.cadence[kind], m.logger)
		active.loops[kind] = l

		active.wg.Add(1)
		go func() {
			defer active.wg.Done()
			m.poll(l, start, done)
		}()
	}

	m.state = &active
	m.sessions++

	m.logger.Info("session started",
		slog.Uint64("session", m.sessions),
		slog.Int("sensors", len(active.loops)))

	m.notify(true)

	return cursor, nil
}

// StopSession ends the session, waits for every loop to exit and replaces
// the loaned drivers with fresh instances. It blocks for at most the slowest
// in-flight read and is a no-op while Idle.
func (m *Manager) StopSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, ok := m.state.(*activeState)
	if !ok {
		return
	}

	m.controller.SetActive(false)
	active.wg.Wait()

	var total, invalid uint64
	for kind, l := range active.loops {
		total += l.published.Load()
		invalid += l.invalid.Load()

		if c, ok := l.driver.(io.Closer); ok {
			if err := c.Close(); err != nil {
				m.logger.Warn("failed to close driver", slog.String("sensor", kind.String()), slog.Any("error", err))
			}
		}
	}

	m.logger.Info("session stopped",
		slog.Uint64("session", m.sessions),
		slog.String("duration", time.Since(active.start).Round(time.Millisecond).String()),
		slog.String("readings", humanize.Comma(int64(total))),
		slog.String("invalid", humanize.Comma(int64(invalid))))

	m.state = &idleState{drivers: m.construct()}

	m.notify(false)
}

func (m *Manager) notify(active bool) {
	if m.observer != nil {
		m.observer.ObserveSession(active)
	}
	if m.statusHook != nil {
		m.statusHook(active)
	}
}

// GetDriver returns the driver of the given kind while Idle. While Active
// the driver is loaned to its loop and nothing is returned.
//
// The returned driver must not be used once a session starts; WithDriver
// holds that guarantee for the duration of a call.
func (m *Manager) GetDriver(kind sensor.Kind) (sensor.Driver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle, ok := m.state.(*idleState)
	if !ok {
		return nil, false
	}

	d, ok := idle.drivers[kind]
	return d, ok
}

// WithDriver calls fn with the driver of the given kind while preventing a
// session from starting. It returns ErrSessionActive while Active and
// ErrUnknownKind for an absent sensor.
func (m *Manager) WithDriver(kind sensor.Kind, fn func(sensor.Driver) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle, ok := m.state.(*idleState)
	if !ok {
		return ErrSessionActive
	}

	d, ok := idle.drivers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	return fn(d)
}

// DebugSnapshot returns the debug text of an Idle driver.
func (m *Manager) DebugSnapshot(kind sensor.Kind) (snapshot string, err error) {
	err = m.WithDriver(kind, func(d sensor.Driver) error {
		snapshot = sensor.DebugSnapshot(d)
		return nil
	})
	return
}

// PersistCalibration saves the calibration of an Idle driver.
func (m *Manager) PersistCalibration(kind sensor.Kind) error {
	return m.WithDriver(kind, sensor.PersistCalibration)
}

// Status reports every kind with its availability. While Active a kind is
// available as long as its loop is still running.
func (m *Manager) Status() map[sensor.Kind]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[sensor.Kind]bool, len(sensor.Kinds()))
	for _, kind := range sensor.Kinds() {
		status[kind] = false
	}

	switch s := m.state.(type) {
	case *idleState:
		for kind := range s.drivers {
			status[kind] = true
		}
	case *activeState:
		for kind, l := range s.loops {
			status[kind] = l.running.Load()
		}
	}

	return status
}

// Close stops any running session, closes the drivers and tears the channel
// down.
func (m *Manager) Close() error {
	m.StopSession()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if idle, ok := m.state.(*idleState); ok {
		for kind, d := range idle.drivers {
			if c, ok := d.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("closing %s: %w", kind, err))
				}
			}
		}
		idle.drivers = nil
	}

	m.channel.Close()

	return errors.Join(errs...)
}
