package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-huddle/internal/config"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/server"
)

type HuddleApp struct {
	log            *log.Logger
	db             database.Repository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

// NewHuddleApp registers the HTTP routes on mux. The mux may already carry
// other handlers, such as the stats endpoint.
func NewHuddleApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository,
	cfg *config.Config) *HuddleApp {
	s := &HuddleApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("POST /api/profile", s.authMiddleware(s.updateProfile))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *HuddleApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *HuddleApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
