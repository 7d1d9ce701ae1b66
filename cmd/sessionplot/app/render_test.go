package app

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/storage"
)

func TestSessionRenderer_Render(t *testing.T) {
	label := "RemoteControlled"
	end := time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)
	d := NewSessionData(&storage.Session{
		ID:        2,
		StartTime: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   &end,
		Label:     &label,
	})
	for i := 0; i < 50; i++ {
		d.Update(at(i*100, sensor.Velocity(float64(i%10))))
		d.Update(at(i*100+50, sensor.Distance(float32(i)/10)))
	}

	r, err := NewSessionRenderer(RenderConfig{Width: 400, Location: time.UTC})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}

	img, err := r.Render(d)
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	wantWidth := defaultLeftBorder + 400 + defaultRightBorder
	wantHeight := defaultTopBorder + 2*defaultStripHeight + defaultStripGap + defaultBottomBorder
	if size := img.Bounds().Size(); size.X != wantWidth || size.Y != wantHeight {
		t.Errorf("Expected %dx%d image, got %dx%d", wantWidth, wantHeight, size.X, size.Y)
	}

	// the first strip holds the distance series and must contain its color
	strip := image.Rect(defaultLeftBorder, defaultTopBorder, defaultLeftBorder+400, defaultTopBorder+defaultStripHeight)
	want := seriesColor(0)
	if !containsColor(img, strip, want) {
		t.Error("Expected the series line to be drawn in the first strip")
	}
}

func TestSessionRenderer_NoSeries(t *testing.T) {
	d := NewSessionData(&storage.Session{ID: 1})
	d.Update(at(0, sensor.Distance(float32(math.Inf(1)))))

	r, err := NewSessionRenderer(RenderConfig{})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}
	if _, err = r.Render(d); !errors.Is(err, errNoSeries) {
		t.Errorf("Expected errNoSeries, got %v", err)
	}
}

func TestSeriesColor(t *testing.T) {
	seen := make(map[color.RGBA]bool)
	for i := range palette {
		c := seriesColor(i)
		if c.A != 0xff {
			t.Errorf("Expected opaque color for series %d, got %v", i, c)
		}
		if seen[c] {
			t.Errorf("Expected distinct color for series %d, got %v again", i, c)
		}
		seen[c] = true
	}

	if got := seriesColor(len(palette) + 1); got != seriesColor(1) {
		t.Errorf("Expected palette to wrap around, got %v", got)
	}
}

func TestCalculateNiceTimeStep(t *testing.T) {
	tests := []struct {
		span time.Duration
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{10 * time.Second, time.Second},
		{5 * time.Minute, 30 * time.Second},
		{24 * time.Hour, 2 * time.Hour},
	}

	for _, tt := range tests {
		if got := calculateNiceTimeStep(tt.span, 1200); got != tt.want {
			t.Errorf("Expected step %s for span %s, got %s", tt.want, tt.span, got)
		}
	}
}

func TestValueRange_FlatSeries(t *testing.T) {
	lo, hi := valueRange(&Series{Min: 5, Max: 5})
	if lo >= 5 || hi <= 5 {
		t.Errorf("Expected a padded range around 5, got %v..%v", lo, hi)
	}
}

func containsColor(img *image.RGBA, area image.Rectangle, c color.Color) bool {
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if img.At(x, y) == c {
				return true
			}
		}
	}
	return false
}
