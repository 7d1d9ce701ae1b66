package app

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rover-sensors/internal/sensor"
	"github.com/roman-kulish/rover-sensors/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	data, err := readSession(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer, err := NewSessionRenderer(RenderConfig{Width: config.Width})
	if err != nil {
		return fmt.Errorf("creating session renderer: %w", err)
	}

	logger.Info("rendering session",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("series", len(data.Series())),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering session: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}

	return errors.Join(err, out.Close())
}

func readSession(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*SessionData, error) {
	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %d: %w", config.SessionID, err)
	}

	counts, err := store.ReadingCounts(ctx, config.SessionID)
	if err != nil {
		return nil, err
	}

	var stats []any
	for _, kind := range sensor.Kinds() {
		if n, ok := counts[kind]; ok {
			stats = append(stats, slog.String(kind.String(), humanize.Comma(n)))
		}
	}
	logger.Info("session loaded",
		slog.Int64("session", session.ID),
		slog.String("start", session.StartTime.Local().Format(time.DateTime)),
		slog.Group("readings", stats...))

	opts := []storage.ReaderOption{storage.WithValidOnly()}
	var filters []any

	if len(config.Kinds) > 0 {
		opts = append(opts, storage.WithKinds(config.Kinds...))
		filters = append(filters, slog.Any("kinds", config.Kinds))
	}

	if config.From != nil || config.To != nil {
		from, to := time.Duration(0), time.Duration(math.MaxInt64)
		if config.From != nil {
			from = *config.From
			filters = append(filters, slog.String("from", from.String()))
		}
		if config.To != nil {
			to = *config.To
			filters = append(filters, slog.String("to", to.String()))
		}
		opts = append(opts, storage.WithTimeRange(from, to))
	}

	logger.Info("reader configuration", filters...)

	iter, err := store.ReadReadings(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	data := NewSessionData(iter.Session())
	for iter.Next(ctx) {
		data.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	logger.Info("finished reading session",
		slog.String("readings", humanize.Comma(data.Readings)),
		slog.String("span", (data.End-data.Start).String()))

	return data, nil
}
