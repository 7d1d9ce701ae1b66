// Package api serves the HTTP control plane of the car: operating mode,
// sensor availability, calibration and live telemetry.
package api

import (
	"context"
	"net"

	"github.com/roman-kulish/rover-sensors/internal/broadcast"
	"github.com/roman-kulish/rover-sensors/internal/carstate"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// CarPort is what the API needs from the component owning the car mode.
type CarPort interface {
	Mode() carstate.Mode
	SetMode(ctx context.Context, mode carstate.Mode) error
}

// SensorPort is what the API needs from the sensor manager.
type SensorPort interface {
	Status() map[sensor.Kind]bool
	DebugSnapshot(kind sensor.Kind) (string, error)
	PersistCalibration(kind sensor.Kind) error
}

// BroadcastPort selects what the UDP broadcaster streams.
type BroadcastPort interface {
	SetTarget(addr net.Addr, kinds []sensor.Kind)
}

var (
	_ SensorPort    = (*manager.Manager)(nil)
	_ BroadcastPort = (*broadcast.UDPBroadcaster)(nil)
)
