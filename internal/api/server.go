package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/rover-sensors/internal/telemetry"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTelemetry exposes the latest telemetry on GET /telemetry.
func WithTelemetry(provider telemetry.Provider) func(*Server) {
	return func(s *Server) {
		s.telemetry = provider
	}
}

// WithBroadcast enables POST /sensors/active_udp.
func WithBroadcast(b BroadcastPort) func(*Server) {
	return func(s *Server) {
		s.broadcast = b
	}
}

// WithMetrics exposes gatherer on GET /metrics.
func WithMetrics(gatherer prometheus.Gatherer) func(*Server) {
	return func(s *Server) {
		s.metrics = gatherer
	}
}

// Server is the HTTP control plane.
type Server struct {
	car       CarPort
	sensors   SensorPort
	telemetry telemetry.Provider
	broadcast BroadcastPort
	metrics   prometheus.Gatherer
	logger    *slog.Logger

	httpServer *http.Server
}

func NewServer(car CarPort, sensors SensorPort, options ...func(*Server)) *Server {
	s := Server{
		car:     car,
		sensors: sensors,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.logRequests(mux)
}

// Serve accepts connections on l until ctx is cancelled, then shuts the
// server down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(l)
	}()

	s.logger.Info("control plane listening", slog.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /state", s.handleGetState)
	mux.HandleFunc("GET /state/all", s.handleGetAllStates)
	mux.HandleFunc("POST /state/{mode}", s.handleSetState)

	mux.HandleFunc("GET /sensors", s.handleGetSensors)
	mux.HandleFunc("GET /sensors/{kind}/debug", s.handleSensorDebug)
	mux.HandleFunc("POST /sensors/{kind}/calibration", s.handleSensorCalibration)

	if s.broadcast != nil {
		mux.HandleFunc("POST /sensors/active_udp", s.handleSetUDPSensors)
	}
	if s.telemetry != nil {
		mux.HandleFunc("GET /telemetry", s.handleGetTelemetry)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(&rec, r)

		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(started)))
	})
}
