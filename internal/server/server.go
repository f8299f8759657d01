// Package server exposes the settlement engine to ops tooling and the
// presentation layer: health and status queries, settlement lookups, manual
// recovery sweeps, and a websocket stream of settlement events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/settled/internal/settlement"
)

// Engine is the settlement surface the server reads from.
type Engine interface {
	SettlementStatus(ctx context.Context, matchID string) (*settlement.Outcome, error)
	Status(ctx context.Context) settlement.Health
}

// Recovery triggers the sweeps on demand. The same sweeps run automatically
// at startup; the endpoints exist for ops intervention.
type Recovery interface {
	RecoverOrphanedMatches(ctx context.Context) (settlement.RecoveryStats, error)
	ProcessPendingSettlements(ctx context.Context) (int, error)
}

// Server is the ops HTTP/websocket server.
type Server struct {
	addr     string
	engine   Engine
	recovery Recovery
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu          sync.RWMutex
	connections map[*connection]bool

	register   chan *connection
	unregister chan *connection
	events     chan settlement.Event

	ctx     context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

// NewServer creates the ops server.
func NewServer(addr string, engine Engine, recovery Recovery, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		engine:   engine,
		recovery: recovery,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:         logger.With().Str("component", "ops_server").Logger(),
		connections: make(map[*connection]bool),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		events:      make(chan settlement.Event, 64),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Publish feeds a settlement event to all websocket subscribers. Wired as the
// orchestrator's event sink; never blocks the settlement path.
func (s *Server) Publish(e settlement.Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn().Str("match_id", e.MatchID).Msg("event stream full; dropping event")
	}
}

// Handler returns the routed HTTP handler, exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /settlements/{matchID}", s.handleSettlement)
	mux.HandleFunc("POST /recovery/orphans", s.handleRecoverOrphans)
	mux.HandleFunc("POST /recovery/pending", s.handleRecoverPending)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Start runs the event loop and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.run()
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.log.Info().Str("addr", s.addr).Msg("ops server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the HTTP server and closes all websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	for conn := range s.connections {
		conn.close()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.log.Debug().Int("total", total).Msg("event subscriber connected")

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn]; ok {
				delete(s.connections, conn)
				conn.close()
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.log.Debug().Int("total", total).Msg("event subscriber disconnected")

		case e := <-s.events:
			s.broadcast(e)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) broadcast(e settlement.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.connections {
		conn.send(e)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	outcome, err := s.engine.SettlementStatus(r.Context(), matchID)
	if errors.Is(err, settlement.ErrMatchNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("match_id", matchID).Msg("settlement lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRecoverOrphans(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recovery.RecoverOrphanedMatches(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("orphan recovery sweep failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecoverPending(w http.ResponseWriter, r *http.Request) {
	processed, err := s.recovery.ProcessPendingSettlements(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("pending settlement sweep failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := newConnection(ws, s.log)
	s.register <- conn
	go func() {
		conn.writePump()
		s.unregister <- conn
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
