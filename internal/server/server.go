// Package server wires the store, services, handlers and middleware into
// one router, and runs it with graceful shutdown.
//
// DEPENDENCY FLOW:
//
//	config → store (sqlite | postgres, behind a breaker)
//	       → redis (only when a backend asks for it)
//	       → services → handlers → routes
//
// Everything is assembled in New; no other package constructs its own
// dependencies.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/geosocial/internal/auth"
	"github.com/sakif/geosocial/internal/config"
	"github.com/sakif/geosocial/internal/handler"
	"github.com/sakif/geosocial/internal/middleware"
	"github.com/sakif/geosocial/internal/ratelimit"
	"github.com/sakif/geosocial/internal/repository"
	"github.com/sakif/geosocial/internal/repository/breaker"
	"github.com/sakif/geosocial/internal/repository/postgres"
	sqliteRepo "github.com/sakif/geosocial/internal/repository/sqlite"
	"github.com/sakif/geosocial/internal/revocation"
	"github.com/sakif/geosocial/internal/service"
	"github.com/sakif/geosocial/internal/session"
	"github.com/sakif/geosocial/internal/web"
)

// MsgLoginRequired is shown when a page needs a session and the request
// has none.
const MsgLoginRequired = "Please log in to access this page"

// Server owns the router and every resource that must be closed on
// shutdown (store connection, redis client).
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// store is the repository pair plus what health checks and shutdown need.
type store struct {
	users  repository.UserRepository
	posts  repository.PostRepository
	pinger repository.Pinger
	closer io.Closer
}

// New builds a Server from cfg. On error every resource opened so far is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, st.closer)

	var rdb *redis.Client
	if cfg.Auth.Revocation == "redis" || cfg.RateLimit.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, rdb)
	}

	if err := s.setupRoutes(st, rdb); err != nil {
		s.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*store, error) {
	settings := breaker.DefaultSettings(cfg.Driver)
	settings.CallTimeout = cfg.Timeout
	b := breaker.New(settings, logger)

	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return &store{
			users:  breaker.NewUserRepository(db.Users(), b),
			posts:  breaker.NewPostRepository(db.Posts(), b),
			pinger: db,
			closer: db,
		}, nil
	case "sqlite":
		db, err := sqliteRepo.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return &store{
			users:  breaker.NewUserRepository(db.Users(), b),
			posts:  breaker.NewPostRepository(db.Posts(), b),
			pinger: db,
			closer: db,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (s *Server) denylist(rdb *redis.Client) revocation.Store {
	switch s.config.Auth.Revocation {
	case "memory":
		return revocation.NewMemory()
	case "redis":
		return revocation.NewRedis(rdb)
	default:
		return revocation.Noop{}
	}
}

func (s *Server) limiter(rdb *redis.Client) ratelimit.Limiter {
	rl := s.config.RateLimit
	switch rl.Backend {
	case "memory":
		return ratelimit.NewMemory(rl.PerSecond, rl.Burst)
	case "redis":
		return ratelimit.NewRedis(rdb, rl.PerSecond, rl.Burst)
	default:
		return nil
	}
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /                                  landing page
//	GET    /healthz                           store health (JSON)
//	GET    /auth/login, /auth/signup          forms
//	POST   /auth/login, /auth/signup          rate limited
//	GET    /auth/logout
//	GET    /auth/github/login, /callback      only when GitHub is configured
//	GET    /user/{id}                         own profile (session required)
//	PATCH  /user/{id}                         update profile
//	DELETE /user/{id}                         delete account
//	       /api/users/{id}/posts[/{postID}]   posts CRUD (JSON, session required)
//	GET    /api/posts/nearby                  nearby search
//
// Middleware order: RequestID → RealIP → Logger → Recoverer →
// MethodOverride. The logger sits outside Recoverer so a recovered panic
// is still logged with its 500. RealIP is only mounted when
// server.trust_proxy_headers is set; otherwise the rate limiter would key
// on a header the client controls.
func (s *Server) setupRoutes(st *store, rdb *redis.Client) error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	if cfg.Server.TrustProxyHeaders {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.MethodOverride)

	renderer, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	denylist := s.denylist(rdb)
	cookies := session.New(cfg.IsProduction(), cfg.Auth.TokenTTL)
	pages := handler.NewPages(cookies, renderer, s.logger, cfg.Server.ExposeErrors)
	guard := auth.NewGuard(tokens, cookies, denylist, s.logger)

	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	authService := service.NewAuthService(st.users, tokens, auth.NewPasswordService(cfg.Auth.BcryptCost), denylist, s.logger)
	userService := service.NewUserService(st.users, st.posts, s.logger)
	postService := service.NewPostService(st.posts, s.logger)

	homeHandler := handler.NewHomeHandler(pages, github != nil)
	healthHandler := handler.NewHealthHandler(st.pinger, s.logger)
	authHandler := handler.NewAuthHandler(authService, github, cookies, pages, s.logger)
	userHandler := handler.NewUserHandler(userService, authService, cookies, pages, s.logger)
	postHandler := handler.NewPostHandler(postService, s.logger)

	// === Pages ===
	s.router.With(guard.OptionalSession).Get("/", homeHandler.HandleHome)
	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		forms := r
		if l := s.limiter(rdb); l != nil {
			forms = r.With(ratelimit.Middleware(l, authHandler.HandleThrottled, s.logger))
		}

		r.Get("/login", authHandler.HandleLoginPage)
		forms.Post("/login", authHandler.HandleLogin)
		r.Get("/signup", authHandler.HandleSignupPage)
		forms.Post("/signup", authHandler.HandleSignup)
		r.Get("/logout", authHandler.HandleLogout)

		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	s.router.Route("/user/{id}", func(r chi.Router) {
		r.Use(guard.RequireSession(handler.LoginPath, MsgLoginRequired))
		r.Use(middleware.TagUser)

		r.Get("/", userHandler.HandleProfile)
		r.Patch("/", userHandler.HandleUpdate)
		r.Delete("/", userHandler.HandleDelete)
	})

	// === API ===
	s.router.Route("/api", func(r chi.Router) {
		r.Use(guard.RequireAPISession())
		r.Use(middleware.TagUser)

		r.Get("/posts/nearby", postHandler.HandleNearby)
		r.Route("/users/{id}/posts", func(r chi.Router) {
			r.Get("/", postHandler.HandleList)
			r.Post("/", postHandler.HandleCreate)
			r.Get("/{postID}", postHandler.HandleGet)
			r.Patch("/{postID}", postHandler.HandleUpdate)
			r.Delete("/{postID}", postHandler.HandleDelete)
		})
	})

	s.logger.Info("routes ready",
		slog.String("store", cfg.Store.Driver),
		slog.String("revocation", cfg.Auth.Revocation),
		slog.String("ratelimit", cfg.RateLimit.Backend),
		slog.Bool("github", github != nil),
	)
	return nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests
// for up to Server.ShutdownTimeout and closes the store.
func (s *Server) Start() error {
	defer s.close()

	cfg := s.config.Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("env", s.config.Env),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
