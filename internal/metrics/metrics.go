// Package metrics exports sensor pipeline counters to Prometheus. Collectors
// satisfies both bus.Observer and manager.LoopObserver.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const namespace = "rover"

var (
	_ bus.Observer         = (*Collectors)(nil)
	_ manager.LoopObserver = (*Collectors)(nil)
)

type Collectors struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	reads     *prometheus.CounterVec
	active    prometheus.Gauge
	sessions  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := Collectors{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Readings published to the sensor channel.",
		}, []string{"sensor"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Readings lost by lagging subscribers.",
		}, []string{"sensor"}),

		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "reads_total",
			Help:      "Driver reads performed by polling loops.",
		}, []string{"sensor", "valid"}),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Whether a sensor session is running.",
		}),

		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Sensor sessions started.",
		}),
	}

	for _, collector := range []prometheus.Collector{c.published, c.dropped, c.reads, c.active, c.sessions} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

func (c *Collectors) ObservePublish(kind sensor.Kind) {
	c.published.WithLabelValues(kind.String()).Inc()
}

func (c *Collectors) ObserveDrop(kind sensor.Kind) {
	c.dropped.WithLabelValues(kind.String()).Inc()
}

func (c *Collectors) ObserveRead(kind sensor.Kind, valid bool) {
	c.reads.WithLabelValues(kind.String(), strconv.FormatBool(valid)).Inc()
}

func (c *Collectors) ObserveSession(active bool) {
	if active {
		c.active.Set(1)
		c.sessions.Inc()
	} else {
		c.active.Set(0)
	}
}
