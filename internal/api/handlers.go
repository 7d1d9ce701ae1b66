package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/roman-kulish/rover-sensors/internal/broadcast"
	"github.com/roman-kulish/rover-sensors/internal/carstate"
	"github.com/roman-kulish/rover-sensors/internal/manager"
	"github.com/roman-kulish/rover-sensors/internal/sensor"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeSensorError maps manager errors to status codes. An absent sensor is
// a 404, a driver on loan to a session is a 409.
func writeSensorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrUnknownKind):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, manager.ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.car.Mode())
}

func (s *Server) handleGetAllStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, carstate.Modes())
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	mode, err := carstate.ParseMode(r.PathValue("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err = s.car.SetMode(r.Context(), mode); err != nil {
		s.logger.Error("failed to change car mode", slog.String("mode", mode.String()), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, mode)
}

func (s *Server) handleGetSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sensors.Status())
}

func (s *Server) handleSensorDebug(w http.ResponseWriter, r *http.Request) {
	kind, err := sensor.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot, err := s.sensors.DebugSnapshot(kind)
	if err != nil {
		writeSensorError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(snapshot))
}

func (s *Server) handleSensorCalibration(w http.ResponseWriter, r *http.Request) {
	kind, err := sensor.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err = s.sensors.PersistCalibration(kind); err != nil {
		writeSensorError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetUDPSensors streams the listed sensors to the caller's address on
// broadcast.TargetPort.
func (s *Server) handleSetUDPSensors(w http.ResponseWriter, r *http.Request) {
	var kinds []sensor.Kind
	if err := json.NewDecoder(r.Body).Decode(&kinds); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(broadcast.TargetPort)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.broadcast.SetTarget(addr, kinds)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTelemetry(w http.ResponseWriter, _ *http.Request) {
	t := s.telemetry.Get()
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
