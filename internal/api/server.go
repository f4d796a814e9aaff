// Package api serves the monitor's state and command endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/observability"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/pci"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

const (
	defaultHistorySecs  = 24 * 3600
	maxHistoryRangeSecs = 365 * 86400
)

// History reads recorded command events.
type History interface {
	EventsInRange(from, to int64) ([]report.Event, error)
}

// Server exposes the latest snapshot, command endpoints, health and metrics.
type Server struct {
	httpServer *http.Server
	feed       *worker.Feed
	commands   *worker.CommandQueue
	history    History
	log        *slog.Logger
	now        func() time.Time
}

// NewServer builds a Server listening on addr. history may be nil.
func NewServer(addr string, feed *worker.Feed, commands *worker.CommandQueue, history History, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		feed:     feed,
		commands: commands,
		history:  history,
		log:      logger,
		now:      time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/power-mode", s.handleSetPowerMode).Methods(http.MethodPost)
	v1.HandleFunc("/processes/{pid:[0-9]+}/kill", s.handleKill).Methods(http.MethodPost)
	v1.HandleFunc("/commands", s.handleCommands).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", "err", err)
		}
	}()
	return nil
}

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	env, ok := s.feed.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

type powerModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetPowerMode(w http.ResponseWriter, r *http.Request) {
	var req powerModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	mode, err := pci.ParseControl(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.commands.Push(worker.SetPowerMode{Mode: mode})
	s.log.Info("queued power mode", "mode", mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": worker.SetPowerMode{Mode: mode}.String()})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pid %q", mux.Vars(r)["pid"]))
		return
	}
	cmd := worker.KillProcess{PID: pid}
	s.commands.Push(cmd)
	s.log.Info("queued kill", "pid", pid)
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": cmd.String()})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	to := s.now().Unix()
	from := to - defaultHistorySecs
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
	}
	if from < 0 || to < from || to-from > maxHistoryRangeSecs {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid time range [%d, %d]", from, to))
		return
	}

	events := []report.Event{}
	if s.history != nil {
		found, err := s.history.EventsInRange(from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if found != nil {
			events = found
		}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
