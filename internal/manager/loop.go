package manager

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// state is either *idleState or *activeState. Drivers live in exactly one of
// them at a time.
type state interface {
	isState()
}

type idleState struct {
	drivers map[sensor.Kind]sensor.Driver
}

type activeState struct {
	start time.Time
	loops map[sensor.Kind]*loop
	wg    sync.WaitGroup
}

func (*idleState) isState()   {}
func (*activeState) isState() {}

// loop is one driver on loan to its polling goroutine.
type loop struct {
	driver  sensor.Driver
	kind    sensor.Kind
	cadence time.Duration
	logger  *slog.Logger

	running   atomic.Bool
	published atomic.Uint64
	invalid   atomic.Uint64
}

func newLoop(d sensor.Driver, cadence time.Duration, logger *slog.Logger) *loop {
	l := loop{
		driver:  d,
		kind:    d.Kind(),
		cadence: cadence,
		logger:  logger.With(slog.String("sensor", d.Kind().String())),
	}
	l.running.Store(true)
	return &l
}

// poll reads, stamps and publishes until the session ends, the channel is
// closed or the failure threshold is hit. A read in flight when the session
// ends is discarded.
func (m *Manager) poll(l *loop, start time.Time, done <-chan struct{}) {
	defer l.running.Store(false)

	sensor.OnSessionStart(l.driver)

	var timer *time.Timer
	if l.cadence > 0 {
		timer = time.NewTimer(l.cadence)
		timer.Stop()
		defer timer.Stop()
	}

	var invalidRun int
	for {
		select {
		case <-done:
			return
		default:
		}

		r := sensor.ReadWithTimestamp(l.driver, start)

		select {
		case <-done:
			return
		default:
		}

		if err := m.channel.Publish(r); err != nil {
			if errors.Is(err, bus.ErrClosed) {
				l.logger.Warn("sensor channel closed, stopping loop")
			} else {
				l.logger.Error("publish failed, stopping loop", slog.Any("error", err))
			}
			return
		}

		valid := r.Reading.Valid()
		l.published.Add(1)
		if m.observer != nil {
			m.observer.ObserveRead(l.kind, valid)
		}

		if valid {
			invalidRun = 0
		} else {
			invalidRun++
			l.invalid.Add(1)
		}

		if m.failureThreshold > 0 && invalidRun >= m.failureThreshold {
			l.logger.Error("too many consecutive invalid readings, stopping loop", slog.Int("threshold", m.failureThreshold))
			return
		}

		if timer == nil {
			continue
		}

		timer.Reset(l.cadence)
		select {
		case <-done:
			return
		case <-timer.C:
		}
	}
}
