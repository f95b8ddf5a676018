package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/daemon"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Source is the read-only view of the daemon served by the API
type Source interface {
	Status() daemon.Status
	Rules() config.RuleSet
	CurrentWindow() (config.WindowInfo, bool)
	Subscribe() chan daemon.SwitchEvent
	Unsubscribe(ch chan daemon.SwitchEvent)
}

const (
	shutdownTimeout = 5 * time.Second
	writeWait       = 5 * time.Second
)

// Server represents the HTTP status API
type Server struct {
	router   *mux.Router
	source   Source
	version  string
	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(source Source, version string) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		source:  source,
		version: version,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.WithComponent(logger.ComponentAPI),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/window/current", s.handleCurrentWindow).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)
}

// Handler returns the root handler including CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("Status API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Status())
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := s.source.Rules()
	if rules == nil {
		rules = config.RuleSet{}
	}
	s.writeJSON(w, rules)
}

func (s *Server) handleCurrentWindow(w http.ResponseWriter, r *http.Request) {
	current, ok := s.source.CurrentWindow()
	if !ok {
		http.Error(w, "No window polled yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, current)
}

// handleEvents streams one JSON SwitchEvent per profile change
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events := s.source.Subscribe()
	defer s.source.Unsubscribe(events)

	// the read side only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}
