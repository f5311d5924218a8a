// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	GRPCPort    string
	HTTPPort    string

	// Backend API
	BackendURL        string
	SessionCookie     string
	SessionCookieName string
	AuthToken         string
	CSRFToken         string
	CSRFPageURL       string
	HTTPTimeout       time.Duration
	HTTPDebug         bool

	// Search radius choices offered to the user, in kilometers
	RadiiKM         []int
	DefaultRadiusKM int

	// Location provider
	LocationProvider string
	Latitude         float64
	Longitude        float64
	AccuracyMeters   float64
	GoogleAPIKey     string
	LocationTimeout  time.Duration
	LocationMaxAge   time.Duration

	// Notification polling
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollMaxAttempts  int

	// Map page output
	MapOutputPath string

	// Optional PostgreSQL audit history
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	HistoryEnabled   bool

	// OpenTelemetry configuration
	OTELEndpoint string
	OTELEnabled  bool

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "hospital-locator"),
		Environment: getEnv("ENVIRONMENT", "development"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		BackendURL:        strings.TrimRight(getEnv("LOCATOR_BACKEND_URL", "http://localhost:8000"), "/"),
		SessionCookie:     getEnv("LOCATOR_SESSION_COOKIE", ""),
		SessionCookieName: getEnv("LOCATOR_SESSION_COOKIE_NAME", "sessionid"),
		AuthToken:         getEnv("LOCATOR_AUTH_TOKEN", ""),
		CSRFToken:         getEnv("LOCATOR_CSRF_TOKEN", ""),
		CSRFPageURL:       getEnv("LOCATOR_CSRF_PAGE", ""),

		LocationProvider: getEnv("LOCATOR_PROVIDER", "static"),
		GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),

		MapOutputPath: getEnv("MAP_OUTPUT_PATH", "hospitals.html"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "bloodbank"),
		PostgresUser:     getEnv("POSTGRES_USER", "development"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "development"),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error

	// Default location is the center of India, matching the initial map view
	cfg.Latitude, err = parseFloat("LOCATOR_LATITUDE", "20.5937")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATOR_LATITUDE: %w", err)
	}

	cfg.Longitude, err = parseFloat("LOCATOR_LONGITUDE", "78.9629")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATOR_LONGITUDE: %w", err)
	}

	cfg.AccuracyMeters, err = parseFloat("LOCATOR_ACCURACY_M", "50")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATOR_ACCURACY_M: %w", err)
	}

	cfg.RadiiKM, err = parseIntList("LOCATOR_RADII", "5,10,25,50")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATOR_RADII: %w", err)
	}

	cfg.DefaultRadiusKM, err = parseInt("LOCATOR_DEFAULT_RADIUS_KM", "10")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATOR_DEFAULT_RADIUS_KM: %w", err)
	}
	if !slices.Contains(cfg.RadiiKM, cfg.DefaultRadiusKM) {
		return nil, fmt.Errorf("LOCATOR_DEFAULT_RADIUS_KM %d is not one of %v", cfg.DefaultRadiusKM, cfg.RadiiKM)
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"HTTP_TIMEOUT", "15s", &cfg.HTTPTimeout},
		{"LOCATION_TIMEOUT", "10s", &cfg.LocationTimeout},
		{"LOCATION_MAX_AGE", "5m", &cfg.LocationMaxAge},
		{"POLL_INITIAL_DELAY", "2s", &cfg.PollInitialDelay},
		{"POLL_INTERVAL", "2s", &cfg.PollInterval},
	}
	for _, d := range durations {
		*d.dst, err = parseDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	cfg.PollMaxAttempts, err = parseInt("POLL_MAX_ATTEMPTS", "10")
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_MAX_ATTEMPTS: %w", err)
	}
	if cfg.PollMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid POLL_MAX_ATTEMPTS: must be at least 1")
	}

	flags := []struct {
		key, def string
		dst      *bool
	}{
		{"HTTP_DEBUG", "false", &cfg.HTTPDebug},
		{"HISTORY_ENABLED", "false", &cfg.HistoryEnabled},
		{"OTEL_ENABLED", "false", &cfg.OTELEnabled},
	}
	for _, f := range flags {
		*f.dst, err = strconv.ParseBool(getEnv(f.key, f.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.key, err)
		}
	}

	return cfg, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloat parses a float64 from an environment variable or default value
func parseFloat(key, defaultValue string) (float64, error) {
	value := getEnv(key, defaultValue)
	return strconv.ParseFloat(value, 64)
}

func parseInt(key, defaultValue string) (int, error) {
	return strconv.Atoi(getEnv(key, defaultValue))
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	return time.ParseDuration(getEnv(key, defaultValue))
}

// parseIntList parses a comma separated list of positive integers
func parseIntList(key, defaultValue string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("radius %d must be positive", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one radius is required")
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
