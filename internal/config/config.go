// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Fetch       FetchConfig
	Poll        PollConfig
	Dedup       DedupConfig
	Notify      NotifyConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	EventsTopic    string
}

// FetchConfig holds upstream endpoint configuration
type FetchConfig struct {
	Endpoint   string
	CategoryID int
	// WindowHours is the trailing window the endpoint is asked for.
	WindowHours int
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PollConfig holds the per-geo polling loop configuration
type PollConfig struct {
	Geos          []string
	MinInterval   time.Duration
	MaxInterval   time.Duration
	Cooldown      time.Duration
	CooldownBoost time.Duration
	EmitTimeout   time.Duration
	SweepInterval time.Duration
}

// DedupConfig holds first-seen tracking configuration
type DedupConfig struct {
	// Backend selects the key store: "postgres" or "memory".
	Backend string
	// Timezone is the single reference zone used for day buckets across
	// all geos.
	Timezone string
	Grace    time.Duration
}

// NotifyConfig holds outbound notification configuration
type NotifyConfig struct {
	Enabled     bool
	WebhookURL  string
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	StartupPing bool
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "trendwatch"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
			EventsTopic:    getEnv("NATS_EVENTS_TOPIC", "trends"),
		},
		Fetch: FetchConfig{
			Endpoint:    getEnv("FETCH_ENDPOINT", "https://trends.google.com/_/TrendsUi/data/batchexecute"),
			CategoryID:  getEnvAsInt("CATEGORY_ID", 6),
			WindowHours: getEnvAsInt("WINDOW_HOURS", 24),
			Timeout:     getEnvAsDuration("FETCH_TIMEOUT", 15*time.Second),
			MaxRetries:  getEnvAsInt("FETCH_MAX_RETRIES", 3),
			BaseDelay:   getEnvAsDuration("FETCH_BASE_DELAY", 2*time.Second),
			MaxDelay:    getEnvAsDuration("FETCH_MAX_DELAY", 30*time.Second),
		},
		Poll: PollConfig{
			Geos:          getEnvAsSlice("GEOS", []string{"US", "GB", "ID"}),
			MinInterval:   getEnvAsDuration("POLL_INTERVAL_MIN", 60*time.Second),
			MaxInterval:   getEnvAsDuration("POLL_INTERVAL_MAX", 120*time.Second),
			Cooldown:      getEnvAsDuration("RATE_LIMIT_COOLDOWN", 10*time.Minute),
			CooldownBoost: getEnvAsDuration("RATE_LIMIT_BOOST", 5*time.Minute),
			EmitTimeout:   getEnvAsDuration("EMIT_TIMEOUT", 10*time.Second),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 1*time.Hour),
		},
		Dedup: DedupConfig{
			Backend:  getEnv("DEDUP_BACKEND", "postgres"),
			Timezone: getEnv("DEDUP_TIMEZONE", "UTC"),
			Grace:    getEnvAsDuration("DEDUP_GRACE", 2*time.Hour),
		},
		Notify: NotifyConfig{
			Enabled:     getEnvAsBool("NOTIFY_ENABLED", true),
			WebhookURL:  getEnv("WEBHOOK_URL", ""),
			Timeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxRetries:  getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
			BaseDelay:   getEnvAsDuration("WEBHOOK_BASE_DELAY", 1*time.Second),
			StartupPing: getEnvAsBool("WEBHOOK_STARTUP_PING", true),
		},
	}

	// Geo codes are compared and keyed upper-case everywhere.
	for i, geo := range config.Poll.Geos {
		config.Poll.Geos[i] = strings.ToUpper(strings.TrimSpace(geo))
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if len(config.Poll.Geos) == 0 {
		return fmt.Errorf("at least one geo must be configured")
	}
	for _, geo := range config.Poll.Geos {
		if geo == "" {
			return fmt.Errorf("geo codes must be non-empty")
		}
	}

	if config.Poll.MinInterval <= 0 || config.Poll.MaxInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if config.Poll.MinInterval > config.Poll.MaxInterval {
		return fmt.Errorf("POLL_INTERVAL_MIN must not exceed POLL_INTERVAL_MAX")
	}

	if config.Fetch.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must not be negative")
	}
	if config.Fetch.BaseDelay <= 0 || config.Fetch.MaxDelay <= 0 {
		return fmt.Errorf("fetch retry delays must be positive")
	}
	if config.Fetch.WindowHours <= 0 {
		return fmt.Errorf("WINDOW_HOURS must be positive")
	}

	if _, err := time.LoadLocation(config.Dedup.Timezone); err != nil {
		return fmt.Errorf("invalid DEDUP_TIMEZONE %q: %w", config.Dedup.Timezone, err)
	}
	if config.Dedup.Backend != "postgres" && config.Dedup.Backend != "memory" {
		return fmt.Errorf("DEDUP_BACKEND must be postgres or memory, got %q", config.Dedup.Backend)
	}

	if config.Notify.Enabled && config.Notify.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL must be set when notifications are enabled")
	}

	return nil
}

// Location resolves the configured reference timezone. Load has already
// validated it.
func (c DedupConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
