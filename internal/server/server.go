package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/taskhub/apiserver/config"
	"github.com/taskhub/apiserver/internal/db"
	"github.com/taskhub/apiserver/internal/handlers"
	"github.com/taskhub/apiserver/internal/logger"
	"github.com/taskhub/apiserver/internal/services"
	"github.com/taskhub/apiserver/internal/store"
)

// requestTimeoutSlack leaves room after the service deadline to write the 504.
const requestTimeoutSlack = 5 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
}

// New opens the database and constructs a Server with middleware and routes.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(cfg, dbConn)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	httpServer := newHTTPServer(cfg, router)

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
	}, nil
}

// NewRouter wires repositories, services and handlers over dbConn.
func NewRouter(cfg config.Config, dbConn *sql.DB) (*chi.Mux, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	taskRepo := store.NewTaskRepository(dbConn)
	userRepo := store.NewUserRepository(dbConn)

	taskService := services.NewTaskService(taskRepo, services.WithOperationTimeout(cfg.RequestTimeout))
	userService := services.NewUserService(userRepo, services.WithUserTimeout(cfg.RequestTimeout))

	auth := handlers.NewAuthHandler(userService, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(requestTimeout(cfg)+requestTimeoutSlack),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)
	if cfg.HTTP.RateLimitRPS > 0 {
		logger.Infof("rate limiting at %.2f req/s per client, burst %d", cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
		router.Use(handlers.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst).Handler)
	}

	router.Get("/healthz", handlers.Healthz(dbConn))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, auth)
	})
	router.Route("/tasks", func(r chi.Router) {
		handlers.TaskRouter(r, taskService, auth.Authenticate)
	})

	return router, nil
}

// newHTTPServer keeps WriteTimeout past the router deadline so the 504 body
// is delivered before the connection is cut.
func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout(cfg) + 2*requestTimeoutSlack,
		IdleTimeout:  60 * time.Second,
	}
}

func requestTimeout(cfg config.Config) time.Duration {
	if cfg.RequestTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.RequestTimeout
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logger.Infof("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx is done, then closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
