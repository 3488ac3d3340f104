// Package config loads the service configuration from a YAML file with
// environment overrides for secrets and endpoints. A loaded Config is a plain
// value and is never mutated after Load returns.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":50051"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultDriver          = DriverSQLite
	defaultSQLiteDSN       = "esun-sate.db"
	defaultMaxOpenConns    = 50
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultRetryAttempts   = 3
	defaultCacheTTL        = 30 * time.Second
	defaultRedisPoolSize   = 100
	defaultSharedAnswer    = "Sonja"
	defaultLogLevel        = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Log      LogConfig      `yaml:"log"`
	Catalog  domain.Catalog `yaml:"catalog"`
}

// ServerConfig configures the HTTP and gRPC listeners.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Leave off unless a reverse proxy sets those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// DatabaseConfig selects the ledger backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RetryAttempts   int           `yaml:"retry_attempts"`
}

// RedisConfig enables the order cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Enabled reports whether a Redis cache should be wired.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// SecurityConfig holds the challenge secret and the admin credential.
type SecurityConfig struct {
	ChallengeSalt string `yaml:"challenge_salt"`
	SharedAnswer  string `yaml:"shared_answer"`
	AdminToken    string `yaml:"admin_token"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises loader behaviour.
type Option func(*loader)

type loader struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		if fn != nil {
			l.lookupEnv = fn
		}
	}
}

// Load reads the YAML file at path. An empty path starts from defaults and
// relies on the environment alone.
func Load(path string, opts ...Option) (Config, error) {
	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = raw
	}
	return Parse(data, opts...)
}

// Parse decodes YAML, applies defaults and environment overrides, then validates.
func Parse(data []byte, opts ...Option) (Config, error) {
	l := loader{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&l)
	}

	cfg := defaults()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode: %w", err)
		}
	}

	l.applyEnv(&cfg)
	if cfg.Database.Driver == DriverSQLite && cfg.Database.DSN == "" {
		cfg.Database.DSN = defaultSQLiteDSN
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        defaultHTTPAddr,
			GRPCAddr:        defaultGRPCAddr,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Driver:          defaultDriver,
			MaxOpenConns:    defaultMaxOpenConns,
			MaxIdleConns:    defaultMaxIdleConns,
			ConnMaxLifetime: defaultConnMaxLifetime,
			RetryAttempts:   defaultRetryAttempts,
		},
		Redis: RedisConfig{
			PoolSize: defaultRedisPoolSize,
			CacheTTL: defaultCacheTTL,
		},
		Security: SecurityConfig{
			SharedAnswer: defaultSharedAnswer,
		},
		Log: LogConfig{Level: defaultLogLevel},
	}
}

func (l loader) applyEnv(cfg *Config) {
	if v, ok := l.lookupEnv("DATABASE_DRIVER"); ok && v != "" {
		cfg.Database.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := l.lookupEnv("DATABASE_DSN"); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := l.lookupEnv("REDIS_ADDR"); ok {
		cfg.Redis.Addr = strings.TrimSpace(v)
	}
	if v, ok := l.lookupEnv("CHALLENGE_SALT"); ok && v != "" {
		cfg.Security.ChallengeSalt = v
	}
	if v, ok := l.lookupEnv("ADMIN_TOKEN"); ok && v != "" {
		cfg.Security.AdminToken = v
	}
	if v, ok := l.lookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
}

// Validate checks the invariants the rest of the service relies on.
func (c Config) Validate() error {
	var missing []string
	add := func(field string) { missing = append(missing, field) }

	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		add("database.driver")
	}
	if c.Database.DSN == "" {
		add("database.dsn")
	}
	if c.Database.RetryAttempts < 1 {
		add("database.retry_attempts")
	}
	if c.Redis.Enabled() && c.Redis.CacheTTL <= 0 {
		add("redis.cache_ttl")
	}
	if c.Security.ChallengeSalt == "" {
		add("security.challenge_salt")
	}
	if c.Security.SharedAnswer == "" {
		add("security.shared_answer")
	}

	if len(c.Catalog) == 0 {
		add("catalog")
	}
	for _, id := range sortedKeys(c.Catalog) {
		item := c.Catalog[id]
		prefix := "catalog." + id
		if id == domain.ShippingItemID || strings.TrimSpace(id) == "" {
			add(prefix)
			continue
		}
		if item.Price.IsNegative() {
			add(prefix + ".price")
		}
		for _, w := range domain.Warehouses {
			fee, ok := item.Shipping[w]
			if !ok || fee.IsNegative() {
				add(prefix + ".shipping." + string(w))
			}
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func sortedKeys(c domain.Catalog) []string {
	keys := c.IDs()
	if _, ok := c[domain.ShippingItemID]; ok {
		keys = append(keys, domain.ShippingItemID)
	}
	return keys
}
