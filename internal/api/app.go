package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/teamspace/teamspace/internal/config"
	"github.com/teamspace/teamspace/internal/crdt"
	"github.com/teamspace/teamspace/internal/database"
	"github.com/teamspace/teamspace/internal/realtime"
	"github.com/teamspace/teamspace/internal/types"
)

// SessionGate validates and mints session credentials. Implemented by
// auth.SessionValidator.
type SessionGate interface {
	ValidateSession(token string) (types.User, error)
	CreateSessionToken(user types.User, exp time.Duration) (string, error)
}

type TeamspaceApp struct {
	log            *log.Logger
	db             database.TeamspaceRepository
	mux            *http.Server
	coord          *realtime.Coordinator
	sessions       SessionGate
	sync           crdt.Provider
	allowedOrigins []string
}

func NewTeamspaceApp(mux *http.ServeMux, logger *log.Logger, coord *realtime.Coordinator,
	db database.TeamspaceRepository, sessions SessionGate, sync crdt.Provider, cfg *config.Config) *TeamspaceApp {

	s := &TeamspaceApp{
		log:            logger,
		db:             db,
		coord:          coord,
		sessions:       sessions,
		sync:           sync,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /sync/{channel}", s.serveSync)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *TeamspaceApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TeamspaceApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
