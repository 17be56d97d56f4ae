package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/risklab/signalgate/internal/confidence"
	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/exits"
	"github.com/risklab/signalgate/internal/snapshot"
)

// Source is the engine view the status server reads from.
type Source interface {
	Status() snapshot.Status
	Positions() []exits.Position
	ExitHistory() []exits.ClosedPosition
	ConfidenceHistory() []confidence.Result
	DailyReset()
}

// exitsView pairs the aggregate trade stats with the closed-position ring.
type exitsView struct {
	Stats  exits.Stats            `json:"stats"`
	Closed []exits.ClosedPosition `json:"closed"`
}

// Server is the read-only status HTTP server.
type Server struct {
	cfg    config.ServerConfig
	source Source
	server *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.ServerConfig, source Source) *Server {
	s := &Server{cfg: cfg, source: source}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/regime", s.handleRegime).Methods(http.MethodGet)
	r.HandleFunc("/status/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	r.HandleFunc("/status/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/status/exits", s.handleExits).Methods(http.MethodGet)
	r.HandleFunc("/status/confidence", s.handleConfidence).Methods(http.MethodGet)
	r.HandleFunc("/admin/reset", s.handleReset).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("component", "httpapi").
		Str("addr", s.server.Addr).
		Msg("status server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

func (s *Server) handleRegime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status().Regime)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status().Portfolio)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Positions())
}

func (s *Server) handleExits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, exitsView{
		Stats:  s.source.Status().Stats,
		Closed: s.source.ExitHistory(),
	})
}

func (s *Server) handleConfidence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.ConfidenceHistory())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.source.DailyReset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Str("component", "httpapi").Err(err).Msg("response encode failed")
	}
}
