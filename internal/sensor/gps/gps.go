// Package gps reads position fixes from a serial positioning device. Two line
// formats are understood: the shell of a UWB tag in "les" mode and standard
// NMEA 0183 GGA sentences.
package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/adrianmo/go-nmea"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// DefaultBaudRate of the positioning device.
const DefaultBaudRate = 115200

// maxLines bounds the lines consumed by one Read before giving up.
const maxLines = 32

const (
	// FormatUWB is the "les" output of a UWB tag shell.
	FormatUWB Format = iota

	// FormatNMEA is NMEA 0183. Only GGA sentences with a fix are used.
	FormatNMEA
)

var (
	errNoFix      = errors.New("no position in input")
	errMalformed  = errors.New("malformed position estimate")
	errUnknownFmt = errors.New("unknown positioning format")
)

var (
	_ sensor.Driver = (*Sensor)(nil)
	_ io.Closer     = (*Sensor)(nil)
)

// Format selects how lines from the device are parsed.
type Format uint8

func (f Format) String() string {
	switch f {
	case FormatUWB:
		return "uwb"
	case FormatNMEA:
		return "nmea"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat parses "uwb" or "nmea".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uwb":
		return FormatUWB, nil
	case "nmea":
		return FormatNMEA, nil
	default:
		return 0, fmt.Errorf("%w '%s'", errUnknownFmt, s)
	}
}

// WithFormat sets the line format. Defaults to FormatUWB.
func WithFormat(f Format) func(*Sensor) {
	return func(s *Sensor) {
		s.format = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(*Sensor) {
	return func(s *Sensor) {
		s.logger = logger
	}
}

// Sensor parses position fixes from a serial port. The port's read timeout
// paces the sensor, so the polling loop needs no extra sleep.
type Sensor struct {
	port   io.ReadWriter
	reader *bufio.Reader
	format Format

	// partial holds the start of a line cut by a read timeout
	partial string
	logger *slog.Logger
}

// New takes ownership of port. In UWB mode the tag shell is woken and put
// into continuous position output.
func New(port io.ReadWriter, options ...func(*Sensor)) (*Sensor, error) {
	s := Sensor{
		port:   port,
		reader: bufio.NewReader(port),
		format: FormatUWB,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	s.logger = s.logger.With(slog.String("sensor", sensor.KindGps.String()), slog.String("format", s.format.String()))

	if s.format == FormatUWB {
		for _, cmd := range []string{"\n\n", "les\n"} {
			if _, err := io.WriteString(s.port, cmd); err != nil {
				return nil, sensor.NewInitError(sensor.KindGps, fmt.Errorf("writing shell command: %w", err))
			}
		}
	}

	return &s, nil
}

func (s *Sensor) Kind() sensor.Kind {
	return sensor.KindGps
}

// Read blocks until a position line arrives or the port times out.
func (s *Sensor) Read() sensor.Reading {
	r, err := s.next()
	if err != nil {
		s.logger.Debug("read failed", slog.Any("error", sensor.NewReadError(sensor.KindGps, err)))
		return sensor.InvalidGps()
	}
	return r
}

func (s *Sensor) next() (sensor.Gps, error) {
	for i := 0; i < maxLines; i++ {
		line, err := s.reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			s.partial += line

			// read timeout; the UWB shell goes quiet until poked
			if s.format == FormatUWB {
				if _, werr := io.WriteString(s.port, "\n"); werr != nil {
					return sensor.Gps{}, fmt.Errorf("waking shell: %w", werr)
				}
			}
			return sensor.Gps{}, err
		}
		if err != nil {
			return sensor.Gps{}, err
		}

		line, s.partial = s.partial+line, ""

		var (
			fix  sensor.Gps
			ok   bool
			perr error
		)
		switch s.format {
		case FormatNMEA:
			fix, ok, perr = parseNMEA(line)
		default:
			fix, ok, perr = parseUWB(line)
		}

		if perr != nil {
			s.logger.Debug("skipping line", slog.String("line", strings.TrimSpace(line)), slog.Any("error", perr))
			continue
		}
		if ok {
			return fix, nil
		}
	}

	return sensor.Gps{}, errNoFix
}

// parseUWB extracts the "est[x,y,z,qf]" token from a les output line.
func parseUWB(line string) (sensor.Gps, bool, error) {
	idx := strings.Index(line, "est[")
	if idx < 0 {
		return sensor.Gps{}, false, nil
	}

	rest := line[idx+len("est["):]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return sensor.Gps{}, false, errMalformed
	}

	fields := strings.Split(rest[:end], ",")
	if len(fields) != 4 {
		return sensor.Gps{}, false, fmt.Errorf("%w: %d fields", errMalformed, len(fields))
	}

	var coords [3]float32
	for i := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 32)
		if err != nil {
			return sensor.Gps{}, false, fmt.Errorf("%w: %v", errMalformed, err)
		}
		coords[i] = float32(v)
	}

	qf, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 8)
	if err != nil {
		return sensor.Gps{}, false, fmt.Errorf("%w: %v", errMalformed, err)
	}

	return sensor.Gps{X: coords[0], Y: coords[1], Z: coords[2], Confidence: uint8(min(qf, 100))}, true, nil
}

// parseNMEA converts a GGA sentence with a fix. X is the latitude, Y the
// longitude (both decimal degrees) and Z the altitude in meters.
func parseNMEA(line string) (sensor.Gps, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '$' {
		return sensor.Gps{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return sensor.Gps{}, false, err
	}

	gga, ok := sentence.(nmea.GGA)
	if !ok || gga.FixQuality == nmea.Invalid {
		return sensor.Gps{}, false, nil
	}

	return sensor.Gps{
		X:          float32(gga.Latitude),
		Y:          float32(gga.Longitude),
		Z:          float32(gga.Altitude),
		Confidence: uint8(min(gga.NumSatellites*10, 100)),
	}, true, nil
}

func (s *Sensor) DebugSnapshot() string {
	return fmt.Sprintf("%s, format: %s, buffered: %d", s.Read(), s.format, s.reader.Buffered())
}

// Close closes the underlying port when it is closable.
func (s *Sensor) Close() error {
	if c, ok := s.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
