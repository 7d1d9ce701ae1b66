package app

import (
	"math"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/storage"
	"github.com/roman-kulish/rover-sensors/internal/telemetry"
)

// Point is one value of a series, at its offset from the session start.
type Point struct {
	At    time.Duration
	Value float64
}

// Series is one numeric quantity extracted from a sensor's readings.
type Series struct {
	Name   string
	Unit   string
	Kind   sensor.Kind
	Points []Point
	Min    float64
	Max    float64
}

func (s *Series) add(at time.Duration, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if len(s.Points) == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Points = append(s.Points, Point{At: at, Value: v})
}

type seriesDef struct {
	name string
	unit string
}

// layout lists the series extracted from each kind, in plotting order.
var layout = []struct {
	kind    sensor.Kind
	series  []seriesDef
	extract func(sensor.Reading) []float64
}{
	{
		kind:   sensor.KindImu,
		series: []seriesDef{{"roll", "°"}, {"pitch", "°"}, {"yaw", "°"}, {"accel x", "m/s²"}, {"accel y", "m/s²"}, {"accel z", "m/s²"}},
		extract: func(r sensor.Reading) []float64 {
			v := r.(sensor.Imu)
			roll, pitch, yaw := telemetry.EulerAngles(v.Quaternion)
			return []float64{roll, pitch, yaw, float64(v.Acceleration[0]), float64(v.Acceleration[1]), float64(v.Acceleration[2])}
		},
	},
	{
		kind:   sensor.KindUltrasonic,
		series: []seriesDef{{"distance", "m"}},
		extract: func(r sensor.Reading) []float64 {
			return []float64{float64(r.(sensor.Distance))}
		},
	},
	{
		kind:   sensor.KindGps,
		series: []seriesDef{{"x", "m"}, {"y", "m"}, {"z", "m"}, {"confidence", "%"}},
		extract: func(r sensor.Reading) []float64 {
			v := r.(sensor.Gps)
			return []float64{float64(v.X), float64(v.Y), float64(v.Z), float64(v.Confidence)}
		},
	},
	{
		kind:   sensor.KindVelocity,
		series: []seriesDef{{"velocity", "m/s"}},
		extract: func(r sensor.Reading) []float64 {
			return []float64{float64(r.(sensor.Velocity))}
		},
	},
	{
		kind:   sensor.KindAmbience,
		series: []seriesDef{{"temperature", "°C"}, {"humidity", "%"}},
		extract: func(r sensor.Reading) []float64 {
			v := r.(sensor.Ambience)
			return []float64{float64(v.Temperature), float64(v.Humidity)}
		},
	},
}

// SessionData accumulates the readings of a session into plottable series.
type SessionData struct {
	Session  *storage.Session
	Readings int64
	Skipped  int64
	Start    time.Duration
	End      time.Duration

	series map[sensor.Kind][]*Series
}

func NewSessionData(session *storage.Session) *SessionData {
	d := SessionData{
		Session: session,
		series:  make(map[sensor.Kind][]*Series, len(layout)),
	}

	for _, l := range layout {
		for _, def := range l.series {
			d.series[l.kind] = append(d.series[l.kind], &Series{Name: def.name, Unit: def.unit, Kind: l.kind})
		}
	}

	return &d
}

// Update adds a reading to its series. Invalid readings are counted and
// skipped.
func (d *SessionData) Update(r sensor.TimedReading) {
	if r.Reading == nil || !r.Reading.Valid() {
		d.Skipped++
		return
	}

	kind := r.Reading.Kind()
	for _, l := range layout {
		if l.kind != kind {
			continue
		}

		for i, v := range l.extract(r.Reading) {
			d.series[kind][i].add(r.Timestamp, v)
		}
	}

	if d.Readings == 0 || r.Timestamp < d.Start {
		d.Start = r.Timestamp
	}
	if r.Timestamp > d.End {
		d.End = r.Timestamp
	}
	d.Readings++
}

// Series returns every series holding at least one point, in plotting order.
func (d *SessionData) Series() []*Series {
	var out []*Series
	for _, l := range layout {
		for _, s := range d.series[l.kind] {
			if len(s.Points) > 0 {
				out = append(out, s)
			}
		}
	}
	return out
}
