// Package agent implements the SUT agent: an HTTP service that exposes RAPL
// package power, a system-info snapshot, and a load-generator launcher to
// the controller (spec §4.2).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/exporter-toolkit/web"
)

// Config configures the agent HTTP server.
type Config struct {
	WebConfig       *web.FlagConfig
	SysfsPath       string
	FirestarterPath string
	BMCType         string
	Logger          *slog.Logger
}

// Server is the agent's HTTP service (spec §4.2, §6.1).
type Server struct {
	logger      *slog.Logger
	webConfig   *web.FlagConfig
	httpServer  *http.Server
	rapl        *raplReader
	firestarter *firestarterLauncher
	bmcType     string
}

// New constructs a Server bound to addr, wiring up the router and RAPL zone
// discovery. RAPL discovery failure is fatal: without it `/rapl_power` has
// nothing to report (spec §4.2.1).
func New(addr string, cfg Config) (*Server, error) {
	rapl, err := newRAPLReader(cfg.SysfsPath, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger:      cfg.Logger,
		webConfig:   cfg.WebConfig,
		rapl:        rapl,
		firestarter: newFirestarterLauncher(cfg.FirestarterPath),
		bmcType:     cfg.BMCType,
	}

	router := mux.NewRouter()
	router.HandleFunc("/rapl_power", s.handleRAPLPower).Methods(http.MethodGet)
	router.HandleFunc("/system_info", s.handleSystemInfo).Methods(http.MethodGet)
	router.HandleFunc("/firestarter", s.handleFirestarter).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, nil
}

// ListenAndServe blocks serving HTTP until ctx is cancelled, then shuts the
// server down gracefully (teacher idiom, pkg/collector/cli.go).
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- web.ListenAndServe(s.httpServer, s.webConfig, s.logger)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRAPLPower(w http.ResponseWriter, r *http.Request) {
	watts, err := s.rapl.Sample()
	if err != nil {
		s.logger.Error("rapl sample failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, watts)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := systemInfo(r.Context(), s.bmcType)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFirestarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuntimeSecs int `json:"runtime_secs"`
		PctLoad     int `json:"pct_load"`
		NThreads    int `json:"n_threads"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := s.firestarter.Launch(req.RuntimeSecs, req.PctLoad, req.NThreads); err != nil {
		if errors.Is(err, ErrFirestarterRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "Firestarter already running"})

			return
		}

		s.logger.Error("firestarter launch failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
