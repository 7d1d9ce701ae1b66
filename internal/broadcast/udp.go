// Package broadcast streams the latest sensor readings to a UDP listener.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const (
	DefaultPort     = 3000
	DefaultInterval = 50 * time.Millisecond

	// TargetPort is the port a control client listens on for datagrams.
	TargetPort = 3001
)

// DebugSource provides driver debug text while the car is in config mode.
type DebugSource interface {
	DebugSnapshot(kind sensor.Kind) (string, error)
}

func WithInterval(d time.Duration) func(*UDPBroadcaster) {
	return func(b *UDPBroadcaster) {
		b.interval = d
	}
}

func WithLogger(logger *slog.Logger) func(*UDPBroadcaster) {
	return func(b *UDPBroadcaster) {
		b.logger = logger
	}
}

// WithDebugSource enables config mode datagrams.
func WithDebugSource(src DebugSource) func(*UDPBroadcaster) {
	return func(b *UDPBroadcaster) {
		b.debug = src
	}
}

// debugMessage is sent in config mode in place of readings.
type debugMessage struct {
	Sensor sensor.Kind `json:"sensor"`
	Debug  string      `json:"debug"`
}

// UDPBroadcaster sends, at a fixed interval, the newest reading of every
// selected kind received since the previous send. Nothing is sent until a
// target is set.
type UDPBroadcaster struct {
	conn     net.PacketConn
	interval time.Duration
	debug    DebugSource
	logger   *slog.Logger

	mu         sync.Mutex
	addr       net.Addr
	kinds      []sensor.Kind
	configMode bool
	latest     map[sensor.Kind]sensor.TimedReading

	sent atomic.Uint64
}

func New(conn net.PacketConn, options ...func(*UDPBroadcaster)) *UDPBroadcaster {
	b := UDPBroadcaster{
		conn:     conn,
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		latest:   make(map[sensor.Kind]sensor.TimedReading),
	}

	for _, option := range options {
		option(&b)
	}

	return &b
}

// SetTarget selects the kinds to stream and where to send them.
func (b *UDPBroadcaster) SetTarget(addr net.Addr, kinds []sensor.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.addr = addr
	b.kinds = slices.Clone(kinds)
	clear(b.latest)

	b.logger.Info("udp target set", slog.Any("addr", addr), slog.Any("sensors", kinds))
}

// Target returns the current destination and selected kinds.
func (b *UDPBroadcaster) Target() (net.Addr, []sensor.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr, slices.Clone(b.kinds)
}

// SetConfigMode switches between streaming readings and streaming the debug
// snapshot of the first selected kind.
func (b *UDPBroadcaster) SetConfigMode(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configMode = enabled
}

// Sent returns the number of datagrams written.
func (b *UDPBroadcaster) Sent() uint64 {
	return b.sent.Load()
}

// Run collects readings from cursor and sends them every interval until ctx
// is cancelled or the cursor is closed.
func (b *UDPBroadcaster) Run(ctx context.Context, cursor *bus.Cursor) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-cursor.Done():
			return nil

		case <-cursor.Ready():
			b.collect(cursor.Drain())

		case <-ticker.C:
			b.send()
		}
	}
}

func (b *UDPBroadcaster) collect(readings []sensor.TimedReading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range readings {
		if slices.Contains(b.kinds, r.Kind()) {
			b.latest[r.Kind()] = r
		}
	}
}

// send writes one datagram per pending reading, in kind order.
func (b *UDPBroadcaster) send() {
	b.mu.Lock()
	addr := b.addr
	configMode := b.configMode
	var first sensor.Kind
	if len(b.kinds) > 0 {
		first = b.kinds[0]
	}
	hasKinds := len(b.kinds) > 0

	var pending []sensor.TimedReading
	for _, kind := range sensor.Kinds() {
		if r, ok := b.latest[kind]; ok {
			pending = append(pending, r)
		}
	}
	clear(b.latest)
	b.mu.Unlock()

	if addr == nil || !hasKinds {
		return
	}

	if configMode {
		if b.debug == nil {
			return
		}
		snapshot, err := b.debug.DebugSnapshot(first)
		if err != nil {
			b.logger.Debug("no debug snapshot", slog.String("sensor", first.String()), slog.Any("error", err))
			return
		}
		b.write(addr, debugMessage{Sensor: first, Debug: snapshot})
		return
	}

	for _, r := range pending {
		b.write(addr, r)
	}
}

func (b *UDPBroadcaster) write(addr net.Addr, v any) {
	p, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to encode datagram", slog.Any("error", err))
		return
	}

	if _, err = b.conn.WriteTo(p, addr); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			b.logger.Warn("failed to send udp packet", slog.Any("addr", addr), slog.Any("error", err))
		}
		return
	}
	b.sent.Add(1)
}
