package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkHeight = 5
	pixelsPerLabel = 120.0

	defaultWidth       = 1200
	minWidth           = 200
	defaultStripHeight = 100
	defaultStripGap    = 12

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 150
	defaultBottomBorder = 50
	defaultRightBorder  = 20
)

var (
	errNoSeries = errors.New("session has no valid readings to plot")

	stripBackground = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff}
	gridColor       = color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff}
)

// BorderConfig defines the sizes of white space around the strips
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for series labels
	Bottom int // Space for the time scale and information bar
	Right  int
}

// RenderConfig holds the layout of a session chart
type RenderConfig struct {
	Width          int // Width of the plot area
	StripHeight    int
	StripGap       int
	FontSize       float64
	DatetimeFormat string
	Location       *time.Location
	BorderConfig   BorderConfig
}

// SessionRenderer draws one strip per series of a session
type SessionRenderer struct {
	config RenderConfig
	font   *truetype.Font
}

func NewSessionRenderer(config RenderConfig) (*SessionRenderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.StripHeight == 0 {
		config.StripHeight = defaultStripHeight
	}
	if config.StripGap == 0 {
		config.StripGap = defaultStripGap
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = time.DateTime
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	return &SessionRenderer{config: config, font: parsedFont}, nil
}

// Render creates an image of the session series with annotations
func (r *SessionRenderer) Render(data *SessionData) (*image.RGBA, error) {
	series := data.Series()
	if len(series) == 0 {
		return nil, errNoSeries
	}

	b := r.config.BorderConfig
	plotHeight := len(series)*(r.config.StripHeight+r.config.StripGap) - r.config.StripGap

	img := image.NewRGBA(image.Rect(0, 0, b.Left+r.config.Width+b.Right, b.Top+plotHeight+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	ann := r.newAnnotator(img)
	defer ann.Close()

	for i, s := range series {
		top := b.Top + i*(r.config.StripHeight+r.config.StripGap)
		area := image.Rect(b.Left, top, b.Left+r.config.Width, top+r.config.StripHeight)

		r.renderStrip(img, area, s, data, seriesColor(i))

		if err := ann.drawSeriesLabel(area, s); err != nil {
			return nil, fmt.Errorf("drawing %s label: %w", s.Name, err)
		}
	}

	scaleTop := b.Top + plotHeight
	if err := ann.drawTimeScale(img, scaleTop, data); err != nil {
		return nil, fmt.Errorf("drawing time scale: %w", err)
	}
	if err := ann.drawTitle(data); err != nil {
		return nil, fmt.Errorf("drawing title: %w", err)
	}
	if err := ann.drawInfoBar(img, data); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}

	return img, nil
}

// renderStrip draws the background, a zero line when in range and the series
// polyline.
func (r *SessionRenderer) renderStrip(img *image.RGBA, area image.Rectangle, s *Series, data *SessionData, c color.Color) {
	draw.Draw(img, area, image.NewUniform(stripBackground), image.Point{}, draw.Src)

	lo, hi := valueRange(s)
	toY := func(v float64) int {
		ratio := (v - lo) / (hi - lo)
		return area.Max.Y - 1 - int(math.Round(ratio*float64(area.Dy()-1)))
	}

	if lo < 0 && hi > 0 {
		y := toY(0)
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
	}

	span := data.End - data.Start
	if span <= 0 {
		span = 1
	}
	toX := func(at time.Duration) int {
		ratio := float64(at-data.Start) / float64(span)
		return area.Min.X + int(math.Round(ratio*float64(area.Dx()-1)))
	}

	prevX, prevY := toX(s.Points[0].At), toY(s.Points[0].Value)
	img.Set(prevX, prevY, c)

	for _, p := range s.Points[1:] {
		x, y := toX(p.At), toY(p.Value)
		drawLine(img, prevX, prevY, x, y, c)
		prevX, prevY = x, y
	}
}

// valueRange pads a flat series so it is drawn across the middle of its strip.
func valueRange(s *Series) (lo, hi float64) {
	lo, hi = s.Min, s.Max
	if hi-lo < 1e-9 {
		pad := math.Max(math.Abs(lo)*0.1, 1)
		lo, hi = lo-pad, hi+pad
	}
	return lo, hi
}

// drawLine rasterizes a segment with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// palette is cycled when a session has more series than colors.
var palette = []color.RGBA{
	{R: 0xc0, G: 0x1c, B: 0x28, A: 0xff},
	{R: 0x1a, G: 0x5f, B: 0xb4, A: 0xff},
	{R: 0x26, G: 0xa2, B: 0x69, A: 0xff},
	{R: 0xe5, G: 0xa5, B: 0x0a, A: 0xff},
	{R: 0x81, G: 0x3d, B: 0x9c, A: 0xff},
	{R: 0x2a, G: 0xa1, B: 0xb3, A: 0xff},
	{R: 0xc6, G: 0x46, B: 0x00, A: 0xff},
	{R: 0x5e, G: 0x5c, B: 0x64, A: 0xff},
}

func seriesColor(i int) color.RGBA {
	return palette[i%len(palette)]
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func (r *SessionRenderer) newAnnotator(img *image.RGBA) *annotator {
	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(r.font)
	ctx.SetFontSize(r.config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)

	return &annotator{
		context: ctx,
		config:  r.config,
		fontFace: truetype.NewFace(r.font, &truetype.Options{
			Size:    r.config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) lineHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawSeriesLabel(area image.Rectangle, s *Series) error {
	lh := a.lineHeight()
	lo, hi := valueRange(s)

	lines := []struct {
		text string
		y    int
	}{
		{formatValue(hi, s.Unit), area.Min.Y + lh},
		{fmt.Sprintf("%s %s", s.Kind, s.Name), area.Min.Y + area.Dy()/2 + lh/2},
		{formatValue(lo, s.Unit), area.Max.Y},
	}

	for _, l := range lines {
		width := font.MeasureString(a.fontFace, l.text).Round()
		pt := freetype.Pt(area.Min.X-width-8, l.y)
		if _, err := a.context.DrawString(l.text, pt); err != nil {
			return err
		}
	}

	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, top int, data *SessionData) error {
	span := data.End - data.Start
	step := calculateNiceTimeStep(span, a.config.Width)
	left := a.config.BorderConfig.Left
	textY := top + tickMarkHeight + a.lineHeight()

	for at := time.Duration(0); at <= span; at += step {
		x := left
		if span > 0 {
			x += int(float64(at) / float64(span) * float64(a.config.Width-1))
		}

		for y := top; y < top+tickMarkHeight; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatOffset(data.Start + at)
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}

	return nil
}

func (a *annotator) drawTitle(data *SessionData) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Session #%d", data.Session.ID))
	if data.Session.Label != nil {
		sb.WriteString(" (" + *data.Session.Label + ")")
	}
	sb.WriteString(", started " + data.Session.StartTime.In(a.config.Location).Format(a.config.DatetimeFormat))

	pt := freetype.Pt(a.config.BorderConfig.Left, (a.config.BorderConfig.Top+a.lineHeight())/2)
	_, err := a.context.DrawString(sb.String(), pt)
	return err
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *SessionData) error {
	var sb strings.Builder

	if d := data.Session.Duration(); d > 0 {
		sb.WriteString("Duration: " + d.Round(time.Second).String() + "; ")
	} else {
		sb.WriteString("Duration: unfinished; ")
	}
	sb.WriteString(fmt.Sprintf("Readings: %s plotted, %s invalid",
		humanize.Comma(data.Readings), humanize.Comma(data.Skipped)))

	span := data.End - data.Start
	sb.WriteString("; 1px = " + (span / time.Duration(a.config.Width)).String())

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - metrics.Descent.Round() - 4

	pt := freetype.Pt(a.config.BorderConfig.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

func formatValue(v float64, unit string) string {
	return humanize.FtoaWithDigits(v, 2) + " " + unit
}

func formatOffset(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func calculateNiceTimeStep(span time.Duration, width int) time.Duration {
	desired := math.Max(float64(width)/pixelsPerLabel, 1)
	rough := time.Duration(float64(span) / desired)

	niceIntervals := []time.Duration{
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		5 * time.Minute,
		10 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		time.Hour,
	}

	for _, interval := range niceIntervals {
		if rough <= interval {
			return interval
		}
	}

	return 2 * time.Hour
}
