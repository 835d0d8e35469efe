// Package api serves the robot's HTTP interface: live sensor state, the
// event history and manual command injection.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/config"
	"github.com/AaronTheNerd/csce274-project1/internal/db"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Stopper halts the wheels. The motion commander satisfies it.
type Stopper interface {
	StopDrive() error
}

type Server struct {
	m    serialmux.SerialMuxInterface
	db   *db.DB
	stop Stopper
	cfg  *config.RobotConfig
}

// NewServer wires the handlers. db, stop and cfg may be nil: events and runs
// then report 503, stop falls back to a raw halt command and config is empty.
func NewServer(m serialmux.SerialMuxInterface, db *db.DB, stop Stopper, cfg *config.RobotConfig) *Server {
	return &Server{
		m:    m,
		db:   db,
		stop: stop,
		cfg:  cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensors", s.showSensors)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/stop", s.stopHandler)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to write response: %v", err)
	}
}

func (s *Server) showSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	report := serialmux.NewSensorReport(s.m.State().Snapshot())
	stats := s.m.Stats()
	report.Stats = &stats
	s.writeJSON(w, report)
}

// limitParam parses ?limit=, returning 0 (store default) when absent.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event store disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.db.Events(r.URL.Query().Get("run"), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event store disabled")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := s.db.Runs(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw := strings.TrimSpace(r.FormValue("command"))
	if raw == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing command")
		return
	}
	cmd, err := serialmux.ParseRawCommand(raw)
	if errors.Is(err, serialmux.ErrUngatedMotion) {
		s.writeJSONError(w, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.m.SendCommand(cmd); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to send command: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"sent": cmd.String()})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var err error
	if s.stop != nil {
		err = s.stop.StopDrive()
	} else {
		err = s.m.SendCommand(oi.Halt())
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to stop: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	cfg := s.cfg
	if cfg == nil {
		cfg = config.EmptyRobotConfig()
	}
	s.writeJSON(w, cfg)
}
