package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/guards"
	"github.com/risklab/signalgate/internal/market"
)

// Handler consumes the payloads collaborators push over the feed socket.
type Handler interface {
	HandleTick(tick market.Tick)
	HandleBenchmark(update market.BenchmarkUpdate)
	HandleSignal(sig *market.Signal) guards.Result
}

// Envelope frames every inbound feed message.
type Envelope struct {
	Type string          `json:"type"` // "tick", "benchmark", "signal"
	Data json.RawMessage `json:"data"`
}

// Verdict is the admission reply written back for "signal" messages.
type Verdict struct {
	Type   string        `json:"type"` // "verdict"
	Result guards.Result `json:"result"`
}

// Server accepts websocket connections from the market-data and signal
// collaborators. Each connection gets its own rate limiter; messages over
// the limit are dropped, not queued.
type Server struct {
	cfg      config.FeedConfig
	handler  Handler
	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer creates the feed server.
func NewServer(cfg config.FeedConfig, handler Handler) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWS)
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().
		Str("component", "feed").
		Str("addr", s.server.Addr).
		Str("path", s.cfg.Path).
		Msg("feed server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("feed server: %w", err)
	}
	return nil
}

// Shutdown closes the listener and all live connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "feed").Err(err).Msg("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	var writeMu sync.Mutex

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Str("component", "feed").Err(err).Msg("feed connection dropped")
			}
			return
		}
		if !limiter.Allow() {
			log.Warn().Str("component", "feed").Msg("rate limit exceeded, message dropped")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Str("component", "feed").Err(err).Msg("malformed feed message")
			continue
		}
		s.dispatch(conn, &writeMu, env)
	}
}

func (s *Server) dispatch(conn *websocket.Conn, writeMu *sync.Mutex, env Envelope) {
	switch env.Type {
	case "tick":
		var tick market.Tick
		if err := json.Unmarshal(env.Data, &tick); err != nil {
			log.Warn().Str("component", "feed").Err(err).Msg("malformed tick")
			return
		}
		if tick.Timestamp.IsZero() {
			tick.Timestamp = time.Now()
		}
		s.handler.HandleTick(tick)

	case "benchmark":
		var update market.BenchmarkUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			log.Warn().Str("component", "feed").Err(err).Msg("malformed benchmark update")
			return
		}
		if update.Timestamp.IsZero() {
			update.Timestamp = time.Now()
		}
		s.handler.HandleBenchmark(update)

	case "signal":
		var sig market.Signal
		if err := json.Unmarshal(env.Data, &sig); err != nil {
			log.Warn().Str("component", "feed").Err(err).Msg("malformed signal")
			return
		}
		result := s.handler.HandleSignal(&sig)
		writeMu.Lock()
		err := conn.WriteJSON(Verdict{Type: "verdict", Result: result})
		writeMu.Unlock()
		if err != nil {
			log.Warn().Str("component", "feed").Err(err).Msg("verdict write failed")
		}

	default:
		log.Warn().Str("component", "feed").Str("type", env.Type).Msg("unknown feed message type")
	}
}
