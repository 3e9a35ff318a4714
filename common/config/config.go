package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Showcase  ShowcaseConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	PublicURL   string // prefix for blob object URLs handed to clients
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	ChangeChannel string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// ShowcaseConfig holds the preload and playback policy.
// The millisecond values are tuned per engine family and are not invariants.
type ShowcaseConfig struct {
	AssetSource string // "static" or "postgres"
	AssetFile   string
	EngineRules string // optional JSON file of CEL classification rules

	OriginTimeout time.Duration

	PrimeTimeout       time.Duration
	BatchSize          int
	AssetWarmTimeout   time.Duration
	SafariPrimeTimeout time.Duration

	PollInterval      time.Duration
	MinDisplaySafari  time.Duration
	MinDisplayDefault time.Duration
	MaxWaitSafari     time.Duration
	MaxWaitDefault    time.Duration
	CoverageThreshold float64
	FontTimeout       time.Duration
	ServiceTimeout    time.Duration

	ReadySwapDelay           time.Duration
	FallbackSwapDelaySafari  time.Duration
	FallbackSwapDelayDefault time.Duration
	PlayRetryDelay           time.Duration
	PlayTimeout              time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "portfolio"),
			User:        getEnv("POSTGRES_USER", "portfolio"),
			Password:    getEnv("POSTGRES_PASSWORD", "portfolio"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 1),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", true),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			ChangeChannel: getEnv("REDIS_CHANGE_CHANNEL", "showcase:assets:changed"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
		Showcase: ShowcaseConfig{
			AssetSource: getEnv("ASSET_SOURCE", "static"),
			AssetFile:   getEnv("ASSET_FILE", "assets.json"),
			EngineRules: getEnv("ENGINE_RULES", ""),

			OriginTimeout: getEnvDuration("ORIGIN_TIMEOUT", 60*time.Second),

			PrimeTimeout:       getEnvDuration("WARMUP_PRIME_TIMEOUT", 3000*time.Millisecond),
			BatchSize:          getEnvInt("WARMUP_BATCH_SIZE", 4),
			AssetWarmTimeout:   getEnvDuration("WARMUP_ASSET_TIMEOUT", 2000*time.Millisecond),
			SafariPrimeTimeout: getEnvDuration("WARMUP_SAFARI_PRIME_TIMEOUT", 500*time.Millisecond),

			PollInterval:      getEnvDuration("GATE_POLL_INTERVAL", 100*time.Millisecond),
			MinDisplaySafari:  getEnvDuration("GATE_MIN_DISPLAY_SAFARI", 4000*time.Millisecond),
			MinDisplayDefault: getEnvDuration("GATE_MIN_DISPLAY", 3000*time.Millisecond),
			MaxWaitSafari:     getEnvDuration("GATE_MAX_WAIT_SAFARI", 8000*time.Millisecond),
			MaxWaitDefault:    getEnvDuration("GATE_MAX_WAIT", 6000*time.Millisecond),
			CoverageThreshold: getEnvFloat("GATE_COVERAGE_THRESHOLD", 0.8),
			FontTimeout:       getEnvDuration("GATE_FONT_TIMEOUT", 3000*time.Millisecond),
			ServiceTimeout:    getEnvDuration("GATE_SERVICE_TIMEOUT", 5000*time.Millisecond),

			ReadySwapDelay:           getEnvDuration("SWAP_READY_DELAY", 5*time.Millisecond),
			FallbackSwapDelaySafari:  getEnvDuration("SWAP_FALLBACK_DELAY_SAFARI", 30*time.Millisecond),
			FallbackSwapDelayDefault: getEnvDuration("SWAP_FALLBACK_DELAY", 10*time.Millisecond),
			PlayRetryDelay:           getEnvDuration("PLAY_RETRY_DELAY", 150*time.Millisecond),
			PlayTimeout:              getEnvDuration("PLAY_TIMEOUT", 1500*time.Millisecond),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Showcase.AssetSource {
	case "static":
		if c.Showcase.AssetFile == "" {
			return fmt.Errorf("asset file is required for static asset source")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	default:
		return fmt.Errorf("unknown asset source: %s", c.Showcase.AssetSource)
	}

	return c.Showcase.Validate()
}

// Validate checks the showcase policy values
func (s *ShowcaseConfig) Validate() error {
	if s.BatchSize < 1 {
		return fmt.Errorf("warm-up batch size must be >= 1, got %d", s.BatchSize)
	}
	if s.CoverageThreshold <= 0 || s.CoverageThreshold > 1 {
		return fmt.Errorf("coverage threshold must be in (0, 1], got %v", s.CoverageThreshold)
	}
	if s.MaxWaitDefault < s.MinDisplayDefault || s.MaxWaitSafari < s.MinDisplaySafari {
		return fmt.Errorf("gate max wait must be >= min display")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("gate poll interval must be positive")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
