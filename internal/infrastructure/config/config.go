package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App           AppSettings
	HTTP          HTTPSettings
	Auth          AuthSettings
	Log           LogSettings
	Database      DatabaseSettings
	Audit         AuditSettings
	Gateway       GatewaySettings
	NegativeCache NegativeCacheSettings
	Redis         RedisSettings
	Metrics       MetricsSettings
	Seed          SeedSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	WriteTimeoutMassive time.Duration // Extended timeout for consultar_ruc_masivo
	IdleTimeout         time.Duration
	ShutdownTimeout     time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	ClockSkew   time.Duration
	BypassPaths []string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// DSN renders a libpq key/value connection string.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.User, d.Password, d.SSLMode,
	)
}

type AuditSettings struct {
	Enabled     bool
	Async       bool // Route call-log writes through the worker pool
	Workers     int
	QueueSize   int
	MaxBodySize int
}

// GatewaySettings tunes the outbound gateway.
type GatewaySettings struct {
	CallerDefault           string
	MasivoBatchSize         int
	MasivoRPS               float64 // 0 disables pacing
	SnapshotTTL             time.Duration
	SettingsFile            string // Optional viper file for <PREFIX>_* timeouts
	CircuitBreakerEnabled   bool
	CircuitBreakerFailures  int
	CircuitBreakerThreshold float64
	CircuitBreakerCooldown  time.Duration
}

type NegativeCacheSettings struct {
	Backend   string // memory | redis
	RUCTTL    time.Duration
	DNITTL    time.Duration
	KeyPrefix string
}

type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

type MetricsSettings struct {
	Enabled bool
	Path    string
}

// SeedSettings optionally upserts service rows at boot.
type SeedSettings struct {
	Nubefact ServiceSeed
	Migo     ServiceSeed
}

// ServiceSeed holds the registry values of one service. Empty BaseURL disables seeding.
type ServiceSeed struct {
	Name       string
	BaseURL    string
	Token      string
	AuthScheme string
	RateLimit  int // Per endpoint, per minute. 0 means unlimited.
}

// Enabled reports whether the seed carries enough data to be written.
func (s ServiceSeed) Enabled() bool {
	return s.BaseURL != ""
}

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists.
// Environment variables set in the system take precedence over .env file values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_facturacion_pe"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:                getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:         getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:        getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			WriteTimeoutMassive: getEnvAsDuration("HTTP_WRITE_TIMEOUT_MASSIVE", 15*time.Minute),
			IdleTimeout:         getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:     getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthSettings{
			Enabled:     getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:   strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:   strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths: getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/health", "/metrics"}),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ms_facturacion_pe"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			RunMigrations:   getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Audit: AuditSettings{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", true),
			Async:       getEnvAsBool("AUDIT_ASYNC", true),
			Workers:     getEnvAsInt("AUDIT_WORKERS", 4),
			QueueSize:   getEnvAsInt("AUDIT_QUEUE_SIZE", 256),
			MaxBodySize: getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		Gateway: GatewaySettings{
			CallerDefault:           getEnv("GATEWAY_CALLER_DEFAULT", "unknown"),
			MasivoBatchSize:         getEnvAsInt("GATEWAY_MASIVO_BATCH_SIZE", 10),
			MasivoRPS:               getEnvAsFloat("GATEWAY_MASIVO_RPS", 0),
			SnapshotTTL:             getEnvAsDuration("GATEWAY_SNAPSHOT_TTL", 5*time.Minute),
			SettingsFile:            strings.TrimSpace(os.Getenv("GATEWAY_SETTINGS_FILE")),
			CircuitBreakerEnabled:   getEnvAsBool("GATEWAY_CIRCUIT_BREAKER_ENABLED", false),
			CircuitBreakerFailures:  getEnvAsInt("GATEWAY_CIRCUIT_BREAKER_FAILURES", 10),
			CircuitBreakerThreshold: getEnvAsFloat("GATEWAY_CIRCUIT_BREAKER_THRESHOLD", 0.5),
			CircuitBreakerCooldown:  getEnvAsDuration("GATEWAY_CIRCUIT_BREAKER_COOLDOWN", 30*time.Second),
		},
		NegativeCache: NegativeCacheSettings{
			Backend:   strings.ToLower(getEnv("NEGATIVE_CACHE_BACKEND", "memory")),
			RUCTTL:    getEnvAsDuration("NEGATIVE_CACHE_RUC_TTL", 24*time.Hour),
			DNITTL:    getEnvAsDuration("NEGATIVE_CACHE_DNI_TTL", 24*time.Hour),
			KeyPrefix: getEnv("NEGATIVE_CACHE_KEY_PREFIX", "gateway:negative:"),
		},
		Redis: RedisSettings{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Metrics: MetricsSettings{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Seed: SeedSettings{
			Nubefact: ServiceSeed{
				Name:       getEnv("NUBEFACT_NAME", "NubeFact"),
				BaseURL:    strings.TrimSpace(os.Getenv("NUBEFACT_BASE_URL")),
				Token:      os.Getenv("NUBEFACT_TOKEN"),
				AuthScheme: getEnv("NUBEFACT_AUTH_SCHEME", "bearer"),
				RateLimit:  getEnvAsInt("NUBEFACT_RATE_LIMIT_PER_MINUTE", 0),
			},
			Migo: ServiceSeed{
				Name:       getEnv("MIGO_NAME", "Migo"),
				BaseURL:    strings.TrimSpace(os.Getenv("MIGO_BASE_URL")),
				Token:      os.Getenv("MIGO_TOKEN"),
				AuthScheme: getEnv("MIGO_AUTH_SCHEME", "bearer"),
				RateLimit:  getEnvAsInt("MIGO_RATE_LIMIT_PER_MINUTE", 0),
			},
		},
	}

	if cfg.Gateway.MasivoBatchSize <= 0 {
		return cfg, errors.New("invalid config: GATEWAY_MASIVO_BATCH_SIZE must be greater than 0")
	}
	if cfg.Gateway.MasivoBatchSize > 100 {
		return cfg, errors.New("invalid config: GATEWAY_MASIVO_BATCH_SIZE cannot exceed 100")
	}
	if cfg.Gateway.MasivoRPS < 0 {
		return cfg, errors.New("invalid config: GATEWAY_MASIVO_RPS cannot be negative")
	}
	if cfg.Audit.Workers <= 0 {
		return cfg, errors.New("invalid config: AUDIT_WORKERS must be greater than 0")
	}

	switch cfg.NegativeCache.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return cfg, errors.New("invalid config: REDIS_ADDR is required when NEGATIVE_CACHE_BACKEND=redis")
		}
	default:
		return cfg, fmt.Errorf("invalid config: NEGATIVE_CACHE_BACKEND must be 'memory' or 'redis', got %q", cfg.NegativeCache.Backend)
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return cfg, errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return cfg, errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}

	return cfg, nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
