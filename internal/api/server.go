// ABOUTME: HTTP API exposing snapshots, commands, and discovery control
// ABOUTME: The same listener serves clients downstream and device NOTIFYs upstream
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armintoepfer/solo/internal/dispatch"
	"github.com/armintoepfer/solo/internal/logger"
	"github.com/armintoepfer/solo/internal/protocol"
	"github.com/armintoepfer/solo/internal/version"
	"github.com/armintoepfer/solo/internal/zone"
)

const shutdownTimeout = 5 * time.Second

// Config holds API server settings and the handlers the server mounts
// but does not own.
type Config struct {
	Addr    string
	Notify  http.HandlerFunc // device NOTIFY callbacks
	Refresh func()           // triggers an on-demand discovery pass
	Artwork http.Handler     // artwork proxy; nil disables the route
}

// Server is the daemon's HTTP face. Commands go through the dispatcher,
// reads come straight from the core, and the same listener receives
// device event callbacks.
type Server struct {
	config     Config
	core       *zone.Core
	dispatcher *dispatch.Dispatcher
	hub        *Hub

	httpServer *http.Server
	boundAddr  string
	stopOnce   sync.Once
}

// New assembles the server.
func New(cfg Config, core *zone.Core, dispatcher *dispatch.Dispatcher) *Server {
	s := &Server{
		config:     cfg,
		core:       core,
		dispatcher: dispatcher,
		hub:        NewHub(core),
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	// NOTIFY is not a stock method; chi must learn it before any route
	// registration. Registering twice is harmless.
	chi.RegisterMethod("NOTIFY")

	r := chi.NewRouter()
	r.Use(logRequests)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/snapshot", s.handleSnapshot)
		api.Post("/command", s.handleCommand)
		api.Post("/discover", s.handleDiscover)
		api.Get("/events", s.hub.ServeHTTP)
		if s.config.Artwork != nil {
			api.Get("/artwork", s.config.Artwork.ServeHTTP)
		}
	})
	r.Get("/healthz", s.handleHealth)
	if s.config.Notify != nil {
		r.MethodFunc("NOTIFY", "/notify/{service}/{deviceID}", s.config.Notify)
	}

	return r
}

// Start binds the listener and serves in the background. Bind failures
// surface immediately; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	s.hub.Start()
	logger.Infof("api listening on %s", s.boundAddr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, available after Start.
func (s *Server) Addr() string {
	return s.boundAddr
}

// Stop drains in-flight requests and disconnects the event feed.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		s.hub.Stop()
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd protocol.Command
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&cmd); err != nil {
		writeError(w, fmt.Errorf("%w: malformed command: %v", zone.ErrInvalidArgument, err))
		return
	}

	result, err := s.dispatcher.Do(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.config.Refresh != nil {
		s.config.Refresh()
	}
	writeJSON(w, http.StatusAccepted, protocol.DiscoverResult{
		Status:     "scanning",
		Devices:    len(s.core.Devices()),
		Generation: s.core.Generation(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthStatus{
		Status:     "ok",
		Version:    version.Version,
		Devices:    len(s.core.Devices()),
		Generation: s.core.Generation(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debugf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	logger.Debugf("request failed: %v", err)
	writeJSON(w, protocol.StatusOf(err), protocol.NewError(err))
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
