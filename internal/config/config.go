package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"

	UpstreamRemote = "remote"
	UpstreamLocal  = "local"
)

type Config struct {
	Server   ServerConfig
	Quota    QuotaConfig
	Ledger   LedgerConfig
	Upstream UpstreamConfig
	Redis    RedisConfig
	Cache    CacheConfig
	RabbitMQ RabbitMQConfig
	Supabase SupabaseConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	LogLevel       string
	StaticDir      string
	TrustedProxies []string
}

type QuotaConfig struct {
	DailyLimit int
	// TrustForwardedFor enables identity resolution from X-Forwarded-For.
	// Only safe when every request passes through a proxy that sets it.
	TrustForwardedFor bool
	ReservationTTL    time.Duration
}

type LedgerConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

type UpstreamConfig struct {
	Mode          string
	BaseURL       string
	Token         string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled  bool
	Duration time.Duration
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type SupabaseConfig struct {
	URL    string
	KEY    string
	BUCKET string
}

type StorageConfig struct {
	MaxImageBytes  int64
	MaxImagePixels int64
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment without
// touching .env files.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("HOST", "0.0.0.0"),
			Port:           getEnv("PORT", "3001"),
			ReadTimeout:    getDuration("READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   getDuration("WRITE_TIMEOUT", 150*time.Second),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			StaticDir:      getEnv("STATIC_DIR", ""),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Quota: QuotaConfig{
			DailyLimit:        getEnvAsInt("DAILY_LIMIT", 20),
			TrustForwardedFor: getEnvAsBool("TRUST_FORWARDED_FOR", false),
			ReservationTTL:    getDuration("RESERVATION_TTL", 5*time.Minute),
		},
		Ledger: LedgerConfig{
			Driver:      strings.ToLower(getEnv("LEDGER_DRIVER", LedgerSQLite)),
			SQLitePath:  getEnv("LEDGER_SQLITE_PATH", "./data/aisr_usage.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Upstream: UpstreamConfig{
			Mode:          strings.ToLower(getEnv("UPSTREAM_MODE", UpstreamRemote)),
			BaseURL:       strings.TrimRight(getEnv("BACKEND_API_URL", ""), "/"),
			Token:         getEnv("BACKEND_API_TOKEN", ""),
			Timeout:       getDuration("UPSTREAM_TIMEOUT", 120*time.Second),
			HealthTimeout: getDuration("HEALTH_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:  getEnvAsBool("CACHE_ENABLED", false),
			Duration: getDuration("CACHE_DURATION", 24*time.Hour),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   getEnv("RABBITMQ_URL", ""),
			Queue: getEnv("RABBITMQ_QUEUE", "aisr_usage"),
		},
		Supabase: SupabaseConfig{
			URL:    getEnv("SUPABASE_URL", ""),
			KEY:    getEnv("SUPABASE_KEY", ""),
			BUCKET: getEnv("SUPABASE_BUCKET", ""),
		},
		Storage: StorageConfig{
			MaxImageBytes:  getEnvAsInt64("MAX_IMAGE_BYTES", 100*1024*1024), // 100MB
			MaxImagePixels: getEnvAsInt64("MAX_IMAGE_PIXELS", 2*89_478_485),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("DAILY_LIMIT must be positive, got %d", c.Quota.DailyLimit)
	}
	if c.Storage.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive, got %d", c.Storage.MaxImageBytes)
	}
	if c.Storage.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.Storage.MaxImagePixels)
	}
	switch c.Upstream.Mode {
	case UpstreamRemote:
		if c.Upstream.BaseURL == "" {
			return fmt.Errorf("BACKEND_API_URL is required when UPSTREAM_MODE=remote")
		}
	case UpstreamLocal:
	default:
		return fmt.Errorf("unknown UPSTREAM_MODE %q", c.Upstream.Mode)
	}
	switch c.Ledger.Driver {
	case LedgerSQLite:
	case LedgerPostgres:
		if c.Ledger.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_DRIVER=postgres")
		}
	case LedgerRedis:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
