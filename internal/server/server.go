// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects the store, the identity
// provider, the services, handlers and middleware, and decides which URL
// maps to which handler.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New creates:
//	  sqlite.DB → identity.Local → Registry / ProfileSync / Feed / AuthService → handlers
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/config"
	"github.com/sakif/fleetchat/internal/handler"
	"github.com/sakif/fleetchat/internal/identity"
	"github.com/sakif/fleetchat/internal/middleware"
	sqliteRepo "github.com/sakif/fleetchat/internal/repository/sqlite"
	"github.com/sakif/fleetchat/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server and the profile sync loop have stopped.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB

	tokens   *auth.TokenService
	provider *identity.Local
	registry *service.Registry
	sync     *service.ProfileSync
	feed     *service.Feed
	sessions *service.AuthService
}

// New opens the database and wires every layer.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to avoid confusion with the
// sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	var federated []auth.OAuthProvider
	if cfg.Google.Enabled() {
		federated = append(federated, auth.NewGoogleProvider(
			cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.CallbackURL(cfg.Google, "google")))
	}
	if cfg.GitHub.Enabled() {
		federated = append(federated, auth.NewGitHubProvider(
			cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.CallbackURL(cfg.GitHub, "github")))
	}

	// db implements every repository interface; each service only sees the
	// slice it needs.
	provider := identity.NewLocal(db, auth.NewPasswordService(), logger, federated...)
	registry := service.NewRegistry(db, db, provider, service.RegistryConfig{
		LoginDomain: cfg.LoginDomain,
		Claims:      cfg.UsernameClaims,
	}, logger)

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		tokens:   tokens,
		provider: provider,
		registry: registry,
		sync:     service.NewProfileSync(db, db, db, provider, registry, logger),
		feed: service.NewFeed(db, db, service.FeedConfig{
			SpoofAccountID: cfg.SpoofAccountID,
			Location:       cfg.Location(),
		}, logger),
		sessions: service.NewAuthService(registry, provider, db, tokens, logger),
	}
	s.setupRoutes()

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                   → liveness
// POST   /auth/register             → create account, set session cookie
// POST   /auth/login                → sign in, set session cookie
// GET    /auth/{provider}/login     → redirect to Google / GitHub
// GET    /auth/{provider}/callback  → finish federated sign-in
// POST   /auth/logout               → sign out
// GET    /api/me                    → current profile
// PUT    /api/me/username           → rename (optional backfill)
// PUT    /api/me/picture            → set / clear picture
// GET    /api/users/{username}      → resolve a username
// GET    /api/messages              → projected feed
// POST   /api/messages              → send
// GET    /ws/feed                   → live projected feed
// GET    /ws/profile                → live profile
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, 2. RealIP, 3. Logger, 4. Recoverer.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	authHandler := handler.NewAuthHandler(s.sessions, s.logger)
	profileHandler := handler.NewProfileHandler(s.sync, s.registry, s.logger)
	messageHandler := handler.NewMessageHandler(s.feed, s.sessions, s.config.Location(), s.logger)
	streamHandler := handler.NewStreamHandler(s.feed, s.sync, s.sessions, s.config.Location(), s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Get("/{provider}/login", authHandler.HandleFederatedLogin)
		r.Get("/{provider}/callback", authHandler.HandleFederatedCallback)
		r.With(auth.OptionalAuth(s.tokens)).Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Get("/me", authHandler.HandleMe)
		r.Put("/me/username", profileHandler.HandleChangeUsername)
		r.Put("/me/picture", profileHandler.HandleChangePicture)
		r.Get("/users/{username}", profileHandler.HandleResolve)
		r.Get("/messages", messageHandler.HandleList)
		r.Post("/messages", messageHandler.HandleSend)
	})

	s.router.Route("/ws", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		r.Get("/feed", streamHandler.HandleFeed)
		r.Get("/profile", streamHandler.HandleProfile)
	})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the profile sync loop
//  4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start(ctx context.Context) error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	syncCtx, stopSync := context.WithCancel(context.Background())
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		if err := s.sync.Run(syncCtx); err != nil && syncCtx.Err() == nil {
			s.logger.Error("profile sync stopped", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		stopSync()
		<-syncDone
	}()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("usernameClaims", s.config.UsernameClaims),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases the database without serving. Use it when Start is never
// called.
func (s *Server) Close() error {
	return s.db.Close()
}
