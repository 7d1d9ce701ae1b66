package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/rover-sensors/internal/api"
	"github.com/roman-kulish/rover-sensors/internal/broadcast"
	"github.com/roman-kulish/rover-sensors/internal/bus"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/metrics"
	"github.com/roman-kulish/rover-sensors/internal/recorder"
	"github.com/roman-kulish/rover-sensors/internal/storage"
	"github.com/roman-kulish/rover-sensors/internal/telemetry"
)

// Run wires the sensor pipeline together and serves the control plane until
// ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	var (
		wg         sync.WaitGroup
		serverOpts = []func(*api.Server){api.WithLogger(logger.With(slog.String("component", "api")))}
	)

	busOpts := []func(*bus.Channel){bus.WithCapacity(config.Bus.Capacity)}
	if policy, err := bus.ParseOverflowPolicy(config.Bus.Overflow); err == nil {
		busOpts = append(busOpts, bus.WithOverflowPolicy(policy))
	}

	hw := openHardware(&config.Sensors, logger)
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Warn("failed to release hardware", slog.Any("error", err))
		}
	}()

	managerOpts := append(hw.cadences(),
		manager.WithFailureThreshold(config.Sensors.FailureThreshold),
		manager.WithLogger(logger.With(slog.String("component", "manager"))),
	)
	if hook := hw.statusLED(); hook != nil {
		managerOpts = append(managerOpts, manager.WithStatusHook(hook))
	}

	if config.Settings.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

		collectors, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		busOpts = append(busOpts, bus.WithObserver(collectors))
		managerOpts = append(managerOpts, manager.WithObserver(collectors))
		serverOpts = append(serverOpts, api.WithMetrics(reg))
	}

	ch := bus.New(busOpts...)
	m := manager.New(hw.factories(), append(managerOpts, manager.WithChannel(ch))...)
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close sensors", slog.Any("error", err))
		}
		wg.Wait()
	}()

	for kind, available := range m.Status() {
		logger.Info("sensor status", slog.String("sensor", kind.String()), slog.Bool("available", available))
	}

	aggregator := telemetry.NewAggregator(telemetry.WithLogger(logger.With(slog.String("component", "telemetry"))))
	if err := consume(ctx, &wg, m, logger, "telemetry", aggregator.Run); err != nil {
		return err
	}
	serverOpts = append(serverOpts, api.WithTelemetry(aggregator))

	var orchestratorOpts []func(*Orchestrator)

	if config.Broadcast.Enabled {
		conn, err := net.ListenPacket("udp", net.JoinHostPort("", strconv.Itoa(config.Broadcast.Port)))
		if err != nil {
			return fmt.Errorf("opening broadcast socket: %w", err)
		}
		defer conn.Close()

		b := broadcast.New(conn,
			broadcast.WithInterval(config.Broadcast.Interval.Duration()),
			broadcast.WithDebugSource(m),
			broadcast.WithLogger(logger.With(slog.String("component", "broadcast"))))

		if err = consume(ctx, &wg, m, logger, "broadcast", b.Run); err != nil {
			return err
		}

		orchestratorOpts = append(orchestratorOpts, WithBroadcaster(b))
	}

	if config.Recorder.Enabled {
		store, dir, err := createStorage(&config.Recorder)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close storage", slog.Any("error", err))
			}
		}()

		rec := recorder.New(store,
			recorder.WithMaxBatchSize(config.Recorder.MaxBatchSize),
			recorder.WithFlushInterval(config.Recorder.FlushInterval.Duration()),
			recorder.WithDiskGuard(dir, config.Recorder.MinFreeMB*humanize.MiByte),
			recorder.WithLogger(logger.With(slog.String("component", "recorder"))))

		orchestratorOpts = append(orchestratorOpts, WithRecorder(rec))
	}

	orchestrator := NewOrchestrator(ctx, m, logger.With(slog.String("component", "orchestrator")), orchestratorOpts...)
	defer func() {
		if err := orchestrator.Close(); err != nil {
			logger.Warn("failed to stop session", slog.Any("error", err))
		}
	}()

	if config.Broadcast.Enabled {
		serverOpts = append(serverOpts, api.WithBroadcast(orchestrator))
	}

	l, err := net.Listen("tcp", config.Settings.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Settings.Listen, err)
	}

	logger.Info("control plane listening", slog.String("address", l.Addr().String()))

	return api.NewServer(orchestrator, m, serverOpts...).Serve(ctx, l)
}

// consume subscribes to the sensor channel and runs fn on the cursor in its
// own goroutine.
func consume(ctx context.Context, wg *sync.WaitGroup, m *manager.Manager, logger *slog.Logger, name string, fn func(context.Context, *bus.Cursor) error) error {
	cursor, err := m.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", name, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := fn(ctx, cursor); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", slog.String("consumer", name), slog.Any("error", err))
		}
	}()

	return nil
}

// createStorage opens a new database file for this run inside the data
// directory and returns it with the directory path.
func createStorage(config *RecorderConfig) (*storage.SqliteStore, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("storage directory '%s' does not exist: %w", dir, err)
		}
		return nil, "", fmt.Errorf("checking storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, "", fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("rover_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), dir, nil
}
