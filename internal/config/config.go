package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Log       LogConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Security  SecurityConfig
	Policy    PolicyConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"SERVER_PORT" default:"8787"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS" default:"http://localhost:5173,app://magicart"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"magicart-access-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"` // text or json
}

// StoreConfig selects the persistent store backend.
type StoreConfig struct {
	Type       string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, mysql, or redis
	SQLitePath string `envconfig:"STORE_SQLITE_PATH" default:"./data/magicart.db"`
	RedisDB    int    `envconfig:"STORE_REDIS_DB" default:"1"`
	RedisKey   string `envconfig:"STORE_REDIS_PREFIX" default:"magicart"`
}

// DatabaseConfig holds MySQL connection settings.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"magicart"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// CacheConfig holds session cache settings.
type CacheConfig struct {
	Type       string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	SessionTTL time.Duration `envconfig:"CACHE_SESSION_TTL" default:"12h"`
	KeyPrefix  string        `envconfig:"CACHE_KEY_PREFIX" default:"magicart:cache"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// SecurityConfig holds the reserved admin identity and hashing cost.
type SecurityConfig struct {
	ImmuneUsername string `envconfig:"IMMUNE_USERNAME" default:"NPH"`
	ImmuneSecret   string `envconfig:"IMMUNE_SECRET" default:""`
	BcryptCost     int    `envconfig:"BCRYPT_COST" default:"10"`
}

// PolicyConfig holds the abuse policy.
type PolicyConfig struct {
	FailedAttemptLimit int           `envconfig:"POLICY_FAILED_ATTEMPT_LIMIT" default:"3"`
	TemporaryBan       time.Duration `envconfig:"POLICY_TEMPORARY_BAN" default:"10m"`
	EscalatedBan       time.Duration `envconfig:"POLICY_ESCALATED_BAN" default:"8760h"`
	AdminBan           time.Duration `envconfig:"POLICY_ADMIN_BAN" default:"8760h"`
	VerificationDelay  time.Duration `envconfig:"POLICY_VERIFICATION_DELAY" default:"800ms"`
	BanRetention       time.Duration `envconfig:"POLICY_BAN_RETENTION" default:"2160h"`
	CleanupInterval    time.Duration `envconfig:"POLICY_CLEANUP_INTERVAL" default:"1h"`
}

// RateLimitConfig throttles key redemption.
type RateLimitConfig struct {
	RedeemRPS   float64 `envconfig:"RATE_LIMIT_REDEEM_RPS" default:"2"`
	RedeemBurst int     `envconfig:"RATE_LIMIT_REDEEM_BURST" default:"5"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Type {
	case "sqlite", "mysql", "redis":
	default:
		errs = append(errs, fmt.Errorf("STORE_TYPE: unsupported store %q", c.Store.Type))
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CACHE_TYPE: unsupported cache %q", c.Cache.Type))
	}

	if c.Security.ImmuneUsername == "" {
		errs = append(errs, errors.New("IMMUNE_USERNAME must not be empty"))
	}
	if c.Policy.FailedAttemptLimit < 1 {
		errs = append(errs, errors.New("POLICY_FAILED_ATTEMPT_LIMIT must be at least 1"))
	}
	durations := map[string]time.Duration{
		"POLICY_TEMPORARY_BAN":    c.Policy.TemporaryBan,
		"POLICY_ESCALATED_BAN":    c.Policy.EscalatedBan,
		"POLICY_ADMIN_BAN":        c.Policy.AdminBan,
		"POLICY_BAN_RETENTION":    c.Policy.BanRetention,
		"POLICY_CLEANUP_INTERVAL": c.Policy.CleanupInterval,
		"CACHE_SESSION_TTL":       c.Cache.SessionTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Policy.VerificationDelay < 0 {
		errs = append(errs, errors.New("POLICY_VERIFICATION_DELAY must not be negative"))
	}
	if c.RateLimit.RedeemRPS <= 0 || c.RateLimit.RedeemBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_REDEEM_RPS and RATE_LIMIT_REDEEM_BURST must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
