// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"trendwatch/internal/config"
	"trendwatch/internal/server/handlers"
	"trendwatch/internal/service/poll"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// Deps are the wired components the HTTP surface reads from. Nil fields are
// tolerated so the server can run with the in-memory dedup backend, where no
// database exists.
type Deps struct {
	DB        handlers.Pinger
	Events    handlers.EventLister
	Stats     handlers.StatsSource
	Status    *poll.StatusTracker
	NATS      *nats.Conn
	NATSTopic string
	Geos      []string
	Logger    *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Stats, deps.Status, deps.Geos)
	trendsHandler := handlers.NewTrendsHandler(deps.Events)

	// Routes
	router.Get("/", healthHandler.Root)
	router.Get("/healthz", healthHandler.Healthz)
	router.Get("/ready", healthHandler.Ready)
	router.Get("/stats", healthHandler.Stats)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/trends", func(r chi.Router) {
			r.Get("/recent", trendsHandler.GetRecent)
		})
	})

	// WebSocket endpoint for the live trend feed
	if deps.NATS != nil {
		router.Get("/ws/events", handlers.EventsWebSocketHandler(deps.NATS, deps.NATSTopic, deps.Logger))
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
