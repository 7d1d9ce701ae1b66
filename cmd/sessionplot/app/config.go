package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath     string
	SessionID  int64
	OutputFile string
	Format     ImageFormat
	Kinds      []sensor.Kind
	From       *time.Duration
	To         *time.Duration
	Width      int
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Width:  defaultWidth,
	}
}

func NewConfigFromCLI() (*Config, error) {
	fs := flag.CommandLine

	c, err := ParseArgs(fs, os.Args[1:])
	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

// ParseArgs parses command line arguments into a Config.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, kinds string
	var from, to time.Duration
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 1, "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&kinds, "kinds", "", "Comma separated sensors to plot, e.g. Imu,Velocity. Defaults to all")
	fs.DurationVar(&from, "from", 0, "Plot readings taken at least this long after the session start")
	fs.DurationVar(&to, "to", 0, "Plot readings taken at most this long after the session start")
	fs.IntVar(&c.Width, "w", defaultWidth, "Width of the plot area in pixels")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "from" {
			c.From = &from
		}
		if f.Name == "to" {
			c.To = &to
		}
	})

	if kinds != "" {
		for _, name := range strings.Split(kinds, ",") {
			kind, err := sensor.ParseKind(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			c.Kinds = append(c.Kinds, kind)
		}
	}

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID <= 0 {
		err = errors.New("session id is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.Width < minWidth {
		err = fmt.Errorf("width must be at least %d pixels", minWidth)
	} else if c.From != nil && c.To != nil && *c.From > *c.To {
		err = fmt.Errorf("invalid time range: %s > %s", *c.From, *c.To)
	}
	if err != nil {
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
