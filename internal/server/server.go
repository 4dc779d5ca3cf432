// Package server exposes the assistant over HTTP: one chat endpoint
// plus session management, backed by the state manager's live sessions.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/felixgeelhaar/jarvis/internal/assistant"
	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/store"
)

// shutdownTimeout bounds how long in-flight requests may run during a
// graceful stop.
const shutdownTimeout = 10 * time.Second

// AssistantFactory builds a fresh assistant for a new chat session.
type AssistantFactory func(ctx context.Context, username string) (*assistant.Assistant, error)

type Server struct {
	state   *assistant.StateManager
	factory AssistantFactory
	store   store.Storage
	obs     *observe.Observer
	http    *http.Server
}

func New(addr string, state *assistant.StateManager, factory AssistantFactory, st store.Storage, obs *observe.Observer) *Server {
	s := &Server{
		state:   state,
		factory: factory,
		store:   st,
		obs:     obs,
	}

	router := mux.NewRouter()
	router.Use(s.recoverMiddleware, s.logMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/chat", s.handleChat).Methods("POST")
	router.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	router.HandleFunc("/session/{id}", s.handleSessionDetail).Methods("GET")
	router.HandleFunc("/clear_session/{id}", s.handleClearSession).Methods("POST")

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes every live session.
func (s *Server) Run(ctx context.Context) error {
	s.state.StartSweeper()
	defer s.state.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.obs.Log().Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.obs.Log().Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.closeSessions()
		return nil
	case err := <-errCh:
		return err
	}
}

// closeSessions drains the state manager so background remembers finish
// before the process exits.
func (s *Server) closeSessions() {
	for _, info := range s.state.Sessions() {
		if a, ok := s.state.Remove(info.SessionID); ok {
			a.Close()
		}
	}
}
