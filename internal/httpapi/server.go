// Package httpapi exposes the daemon's control and query surface: a
// JSON API for group management and history queries, plus a websocket
// stream of fanout envelopes.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mvtorres/groupwatch/internal/fanout"
	"github.com/mvtorres/groupwatch/internal/status"
	"github.com/mvtorres/groupwatch/internal/store"
	"github.com/mvtorres/groupwatch/internal/watch"
	"go.uber.org/zap"
)

// Server serves the HTTP API on the configured listen address.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	logger     *zap.Logger

	db       *store.DB
	registry *watch.Registry
	engine   *watch.Engine
	machine  *status.Machine
	hub      *fanout.Hub
	session  string
	started  time.Time
}

// NewServer creates an HTTP server bound to addr.
func NewServer(addr, sessionName string, db *store.DB, registry *watch.Registry, engine *watch.Engine, machine *status.Machine, hub *fanout.Hub, logger *zap.Logger) *Server {
	s := &Server{
		addr:     addr,
		logger:   logger,
		db:       db,
		registry: registry,
		engine:   engine,
		machine:  machine,
		hub:      hub,
		session:  sessionName,
		started:  time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed so tests can drive handlers
// through httptest without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/groups", s.handleListGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/groups", s.handleAddGroup).Methods(http.MethodPost)
	r.HandleFunc("/api/groups/{id}", s.handleRemoveGroup).Methods(http.MethodDelete)
	r.HandleFunc("/api/groups/{id}/members", s.handleListMembers).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/export/messages", s.handleExportMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/import", s.handleEnqueueImport).Methods(http.MethodPost)
	r.HandleFunc("/api/imports", s.handleListImports).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	return r
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		s.logger.Info("http server starting", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode string) {
	writeJSON(w, code, map[string]string{"error": errCode})
}
