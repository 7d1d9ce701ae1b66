package gps

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

// fakePort serves scripted chunks; an empty chunk behaves like a read
// timeout on a serial port.
type fakePort struct {
	chunks  []string
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	if chunk == "" {
		p.chunks = p.chunks[1:]
		return 0, io.EOF
	}

	n := copy(b, chunk)
	if n < len(chunk) {
		p.chunks[0] = chunk[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestNew_WakesUWBShell(t *testing.T) {
	port := &fakePort{}

	if _, err := New(port); err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}
	if got := port.written.String(); got != "\n\nles\n" {
		t.Errorf("Expected shell wake-up sequence, got %q", got)
	}

	port = &fakePort{}
	if _, err := New(port, WithFormat(FormatNMEA)); err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}
	if port.written.Len() != 0 {
		t.Errorf("Expected nothing written in NMEA mode, got %q", port.written.String())
	}
}

func TestSensor_ReadUWB(t *testing.T) {
	port := &fakePort{chunks: []string{
		"dwm> les\r\n",
		"1AB2[0.00,0.00,0.00]=2.13 4C7E[4.00,0.00,0.00]=3.05 le_us=2480 est[1.25,2.5,",
		"0.75,87]\r\n",
	}}

	s, err := New(port)
	if err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}

	got, ok := s.Read().(sensor.Gps)
	if !ok {
		t.Fatalf("Expected Gps reading")
	}

	expected := sensor.Gps{X: 1.25, Y: 2.5, Z: 0.75, Confidence: 87}
	if got != expected {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestSensor_ReadTimeoutPokesShell(t *testing.T) {
	port := &fakePort{chunks: []string{"est[1,2,", "", "3,50]\n"}}

	s, err := New(port)
	if err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}
	port.written.Reset()

	if r := s.Read(); r.Valid() {
		t.Errorf("Expected invalid reading on timeout, got %v", r)
	}
	if port.written.String() != "\n" {
		t.Errorf("Expected newline written on timeout, got %q", port.written.String())
	}

	got := s.Read().(sensor.Gps)
	expected := sensor.Gps{X: 1, Y: 2, Z: 3, Confidence: 50}
	if got != expected {
		t.Errorf("Expected line cut by the timeout to be completed, got %v", got)
	}
}

func TestSensor_ReadNMEA(t *testing.T) {
	port := &fakePort{chunks: []string{
		"garbage\r\n",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n",
		"$GPGGA,123520,4807.038,N,01131.000,E,0,00,,,M,,M,,*58\r\n",
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n",
	}}

	s, err := New(port, WithFormat(FormatNMEA))
	if err != nil {
		t.Fatalf("Failed to create sensor: %v", err)
	}

	got, ok := s.Read().(sensor.Gps)
	if !ok {
		t.Fatalf("Expected Gps reading")
	}

	if math.Abs(float64(got.X)-48.1173) > 1e-4 {
		t.Errorf("Expected latitude 48.1173, got %v", got.X)
	}
	if math.Abs(float64(got.Y)-11.516667) > 1e-4 {
		t.Errorf("Expected longitude 11.516667, got %v", got.Y)
	}
	if math.Abs(float64(got.Z)-545.4) > 1e-3 {
		t.Errorf("Expected altitude 545.4, got %v", got.Z)
	}
	if got.Confidence != 80 {
		t.Errorf("Expected confidence 80, got %d", got.Confidence)
	}
}

func TestParseUWB(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		wantErr bool
	}{
		{"le_us=2480 est[1.0,2.0,3.0,100]", true, false},
		{"dwm> ", false, false},
		{"est[1.0,2.0,3.0]", false, true},
		{"est[1.0,2.0,x,10]", false, true},
		{"est[1.0,2.0", false, true},
	}

	for _, tt := range tests {
		_, ok, err := parseUWB(tt.line)
		if ok != tt.ok {
			t.Errorf("%q: expected ok=%v, got %v", tt.line, tt.ok, ok)
		}
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: expected error=%v, got %v", tt.line, tt.wantErr, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("NMEA"); err != nil || f != FormatNMEA {
		t.Errorf("Expected nmea, got %v (%v)", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatUWB {
		t.Errorf("Expected uwb default, got %v (%v)", f, err)
	}
	if _, err := ParseFormat("ublox"); err == nil || !strings.Contains(err.Error(), "ublox") {
		t.Errorf("Expected error naming the format, got %v", err)
	}
}

func TestSensor_Close(t *testing.T) {
	port := &fakePort{}
	s, _ := New(port)

	if err := s.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !port.closed {
		t.Error("Expected port to be closed")
	}
}
