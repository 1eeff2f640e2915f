// cmd/trendwatch/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"trendwatch/internal/adapter/notify"
	"trendwatch/internal/adapter/storage"
	"trendwatch/internal/config"
	"trendwatch/internal/server"
	"trendwatch/internal/service/dedup"
	"trendwatch/internal/service/fetch"
	"trendwatch/internal/service/poll"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies. The database is only required for the
	// postgres dedup backend; the memory backend runs without it.
	var db *pgxpool.Pool
	var auditStore *storage.AuditStore
	var store dedup.Store

	switch cfg.Dedup.Backend {
	case "postgres":
		db, err = initDatabase(ctx, cfg.Database)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize database")
		}
		defer db.Close()

		if err := storage.EnsureSchema(ctx, db); err != nil {
			logger.WithError(err).Fatal("Failed to ensure database schema")
		}

		auditStore = storage.NewAuditStore(db)
		store = storage.NewDedupStore(db)
	case "memory":
		store = dedup.NewMemoryStore()
	}

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer natsConn.Close()

	// Initialize services
	engine := dedup.NewEngine(store, cfg.Dedup.Location(), cfg.Dedup.Grace)

	client := fetch.NewClient(fetch.Config{
		Endpoint:    cfg.Fetch.Endpoint,
		CategoryID:  cfg.Fetch.CategoryID,
		WindowHours: cfg.Fetch.WindowHours,
		MaxRetries:  cfg.Fetch.MaxRetries,
		BaseDelay:   cfg.Fetch.BaseDelay,
		MaxDelay:    cfg.Fetch.MaxDelay,
	}, &http.Client{Timeout: cfg.Fetch.Timeout}, logger)

	// Sinks receive NEW records in registration order: audit log first,
	// then the message bus, then the outbound webhook.
	var sinks []poll.Sink
	if auditStore != nil {
		sinks = append(sinks, auditStore)
	}

	publisher := notify.NewEventPublisher(natsConn, cfg.NATS.EventsTopic)
	sinks = append(sinks, publisher)

	var notifier *notify.WebhookNotifier
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:        cfg.Notify.WebhookURL,
			Timeout:    cfg.Notify.Timeout,
			MaxRetries: cfg.Notify.MaxRetries,
			BaseDelay:  cfg.Notify.BaseDelay,
		}, nil, logger)
		sinks = append(sinks, notifier)

		if cfg.Notify.StartupPing {
			pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
			if err := notifier.SendStartupPing(pingCtx); err != nil {
				logger.WithError(err).Warn("Webhook startup ping failed")
			}
			pingCancel()
		}
	}

	status := poll.NewStatusTracker(time.Now())

	scheduler := poll.NewScheduler(poll.Config{
		Geos:          cfg.Poll.Geos,
		CategoryID:    cfg.Fetch.CategoryID,
		MinInterval:   cfg.Poll.MinInterval,
		MaxInterval:   cfg.Poll.MaxInterval,
		Cooldown:      cfg.Poll.Cooldown,
		CooldownBoost: cfg.Poll.CooldownBoost,
		EmitTimeout:   cfg.Poll.EmitTimeout,
		SweepInterval: cfg.Poll.SweepInterval,
	}, client, engine, store, sinks, status, logger)

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start poll scheduler")
	}

	// Initialize HTTP server
	deps := server.Deps{
		Status:    status,
		NATS:      natsConn,
		NATSTopic: cfg.NATS.EventsTopic,
		Geos:      cfg.Poll.Geos,
		Logger:    logger,
	}
	if db != nil {
		deps.DB = db
	}
	if auditStore != nil {
		deps.Events = auditStore
		deps.Stats = auditStore
	}
	httpServer := server.NewServer(cfg.Server, deps)

	// Start HTTP server
	go func() {
		logger.WithFields(logrus.Fields{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		}).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Poll scheduler shutdown error")
	}

	logger.Info("Shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *logrus.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
