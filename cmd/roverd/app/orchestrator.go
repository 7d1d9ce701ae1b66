package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/carstate"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// SessionManager starts and stops sensor sessions.
type SessionManager interface {
	StartSession() (*bus.Cursor, error)
	StopSession()
	StartTime() time.Time
	PersistCalibration(kind sensor.Kind) error
}

// SessionRecorder writes one session to persistent storage.
type SessionRecorder interface {
	Record(ctx context.Context, cursor *bus.Cursor, start time.Time, label string) (int64, error)
}

// ConfigBroadcaster streams debug snapshots while the car is in Config mode.
type ConfigBroadcaster interface {
	SetConfigMode(enabled bool)
	SetTarget(addr net.Addr, kinds []sensor.Kind)
	Target() (net.Addr, []sensor.Kind)
}

// WithRecorder records every driving session.
func WithRecorder(r SessionRecorder) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithBroadcaster switches the broadcaster in and out of config mode.
func WithBroadcaster(b ConfigBroadcaster) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.broadcaster = b
	}
}

// Orchestrator maps the car mode onto sensor sessions: Standby and Config keep
// the sensors idle, the driving modes run a session and record it.
type Orchestrator struct {
	manager     SessionManager
	recorder    SessionRecorder
	broadcaster ConfigBroadcaster
	logger      *slog.Logger

	mu     sync.Mutex
	mode   carstate.Mode
	cursor *bus.Cursor

	ctx context.Context
	wg  sync.WaitGroup
}

// NewOrchestrator creates an orchestrator in Standby. Recordings are bound to
// ctx so that they finish when the daemon shuts down.
func NewOrchestrator(ctx context.Context, m SessionManager, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		manager: m,
		logger:  logger,
		mode:    carstate.Standby,
		ctx:     ctx,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

func (o *Orchestrator) Mode() carstate.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.mode
}

// SetMode switches the car mode. Switching to the current mode does nothing;
// switching between the two driving modes restarts the session.
func (o *Orchestrator) SetMode(_ context.Context, mode carstate.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if mode == o.mode {
		return nil
	}

	logger := o.logger.With(slog.String("from", o.mode.String()), slog.String("to", mode.String()))

	if o.mode == carstate.Config {
		o.persistCalibration(logger)
	}

	if o.mode.Driving() {
		o.stopSession()
	}

	if o.broadcaster != nil {
		o.broadcaster.SetConfigMode(mode == carstate.Config)
	}

	if mode.Driving() {
		if err := o.startSession(mode.String()); err != nil {
			o.mode = carstate.Standby
			return fmt.Errorf("starting session: %w", err)
		}
	}

	o.mode = mode
	logger.Info("car mode changed")

	return nil
}

// SetTarget changes the streamed sensors. In Config mode the calibration of
// the sensor being replaced is persisted first.
func (o *Orchestrator) SetTarget(addr net.Addr, kinds []sensor.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.broadcaster == nil {
		return
	}

	if o.mode == carstate.Config {
		o.persistCalibration(o.logger.With(slog.String("mode", o.mode.String())))
	}

	o.broadcaster.SetTarget(addr, kinds)
}

// persistCalibration saves the calibration of the sensor that was streamed
// while in Config mode.
func (o *Orchestrator) persistCalibration(logger *slog.Logger) {
	if o.broadcaster == nil {
		return
	}

	_, kinds := o.broadcaster.Target()
	if len(kinds) == 0 {
		return
	}

	if err := o.manager.PersistCalibration(kinds[0]); err != nil {
		logger.Warn("failed to persist calibration", slog.String("sensor", kinds[0].String()), slog.Any("error", err))
	}
}

func (o *Orchestrator) startSession(label string) error {
	cursor, err := o.manager.StartSession()
	if err != nil {
		return err
	}

	o.cursor = cursor

	if o.recorder == nil {
		// nothing consumes the session cursor
		cursor.Close()
		return nil
	}

	start := o.manager.StartTime()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		if _, err := o.recorder.Record(o.ctx, cursor, start, label); err != nil {
			o.logger.Error("session recording failed", slog.Any("error", err))
		}
	}()

	return nil
}

// stopSession stops the loops before closing the cursor so that the recorder
// sees every reading published during the session.
func (o *Orchestrator) stopSession() {
	o.manager.StopSession()

	if o.cursor != nil {
		o.cursor.Close()
		o.cursor = nil
	}
}

// Close returns the car to Standby and waits for recordings to finish.
func (o *Orchestrator) Close() error {
	err := o.SetMode(context.Background(), carstate.Standby)
	o.wg.Wait()
	return err
}
