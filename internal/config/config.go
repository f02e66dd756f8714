package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	MongoDB     MongoDBConfig
	Auth        AuthConfig
	Ledger      LedgerConfig
	Maintenance MaintenanceConfig
	Admin       AdminConfig
	LogLevel    string
}

type ServerConfig struct {
	HTTPPort string
	GRPCPort string
}

// StoreConfig selects the catalog and stock store.
type StoreConfig struct {
	Driver       string
	MySQLDSN     string
	MaxOpenConns int
}

// RedisConfig enables the purchase idempotency guard when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
}

// MongoDBConfig enables the persistent movement journal when URI is set.
type MongoDBConfig struct {
	URI    string
	DBName string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LedgerConfig struct {
	LowStockThreshold int
	JournalQueueSize  int
	JournalWorkers    int
}

// MaintenanceConfig holds the cron schedules of the background jobs.
type MaintenanceConfig struct {
	DedupeSchedule   string
	LowStockSchedule string
}

// AdminConfig is the account created by EnsureAdmin when no admin exists.
type AdminConfig struct {
	Username string
	Email    string
	Password string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// a missing .env is fine, values may come from the environment
		_ = godotenv.Load()
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getenvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	tokenTTL, err := getenvDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort: getenvWithDefault("APP_PORT", "8080"),
			GRPCPort: getenvWithDefault("GRPC_PORT", "50051"),
		},
		Store: StoreConfig{
			Driver:       getenvWithDefault("STORE_DRIVER", DriverMySQL),
			MySQLDSN:     getenvWithDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/sweetshop?parseTime=true"),
			MaxOpenConns: intVar("MYSQL_MAX_OPEN_CONNS", 50),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "sweetshop"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  tokenTTL,
		},
		Ledger: LedgerConfig{
			LowStockThreshold: intVar("LOW_STOCK_THRESHOLD", 3),
			JournalQueueSize:  intVar("JOURNAL_QUEUE_SIZE", 1000),
			JournalWorkers:    intVar("JOURNAL_WORKERS", 4),
		},
		Maintenance: MaintenanceConfig{
			DedupeSchedule:   getenvWithDefault("DEDUPE_CRON_SCHEDULE", "0 3 * * *"),
			LowStockSchedule: getenvWithDefault("LOW_STOCK_CRON_SCHEDULE", "0 * * * *"),
		},
		Admin: AdminConfig{
			Username: getenvWithDefault("ADMIN_USERNAME", "admin"),
			Email:    getenvWithDefault("ADMIN_EMAIL", "admin@sweetshop.com"),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.HTTPPort == "" {
		return errors.New("APP_PORT must be provided")
	}
	if c.Server.GRPCPort == "" {
		return errors.New("GRPC_PORT must be provided")
	}

	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.MySQLDSN == "" {
			return errors.New("MYSQL_DSN must be provided when STORE_DRIVER is mysql")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverMemory, c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be provided")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}

	if c.Ledger.LowStockThreshold < 0 {
		return errors.New("LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.Ledger.JournalQueueSize <= 0 {
		return errors.New("JOURNAL_QUEUE_SIZE must be positive")
	}
	if c.Ledger.JournalWorkers <= 0 {
		return errors.New("JOURNAL_WORKERS must be positive")
	}

	if c.MongoDB.URI != "" && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided when MONGODB_URI is set")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
