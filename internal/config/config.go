// Package config loads server settings.
//
// Values are applied in order, each layer overriding the previous one:
//
//	LoadDefaults → YAML file (optional) → environment variables → Validate
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	GitHub    GitHubConfig    `yaml:"github"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ExposeErrors puts raw store error text into page redirect messages.
	ExposeErrors bool `yaml:"expose_errors"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only enable it behind a proxy that overwrites them; any
	// client can set these headers otherwise.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver"` // sqlite | postgres
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
	Revocation string        `yaml:"revocation"` // none | memory | redis
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Backend   string  `yaml:"backend"` // none | memory | redis
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json; empty picks by Env
}

// LoadDefaults fills c with development defaults. There is no default JWT
// secret.
func (c *Config) LoadDefaults() {
	c.Env = EnvDevelopment
	c.Server = ServerConfig{
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ExposeErrors:    true,
	}
	c.Store = StoreConfig{
		Driver:  "sqlite",
		DSN:     "data/geosocial.db",
		Timeout: 5 * time.Second,
	}
	c.Auth = AuthConfig{
		TokenTTL:   2 * time.Hour,
		BcryptCost: 10,
		Revocation: "none",
	}
	c.RateLimit = RateLimitConfig{
		Backend:   "memory",
		PerSecond: 0.2,
		Burst:     5,
	}
	c.Log = LogConfig{Level: "info"}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment as seen through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v := getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("APP_ENV", &c.Env)
	integer("PORT", &c.Server.Port)
	boolean("EXPOSE_ERRORS", &c.Server.ExposeErrors)
	boolean("TRUST_PROXY_HEADERS", &c.Server.TrustProxyHeaders)
	str("DB_DRIVER", &c.Store.Driver)
	str("DB_DSN", &c.Store.DSN)
	duration("STORE_TIMEOUT", &c.Store.Timeout)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	duration("TOKEN_TTL", &c.Auth.TokenTTL)
	integer("BCRYPT_COST", &c.Auth.BcryptCost)
	str("REVOCATION", &c.Auth.Revocation)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)
	str("RATELIMIT_BACKEND", &c.RateLimit.Backend)
	float("RATELIMIT_RPS", &c.RateLimit.PerSecond)
	integer("RATELIMIT_BURST", &c.RateLimit.Burst)
	str("GITHUB_CLIENT_ID", &c.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &c.GitHub.CallbackURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) must be at least 16 characters"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Auth.Revocation {
	case "none", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("auth.revocation=redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.revocation must be none, memory or redis, got %q", c.Auth.Revocation))
	}
	switch c.RateLimit.Backend {
	case "none":
	case "memory", "redis":
		if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("ratelimit.per_second and ratelimit.burst must be positive"))
		}
		if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
			errs = append(errs, errors.New("ratelimit.backend=redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be none, memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.GitHub.ClientID != "" && c.GitHub.ClientSecret == "" {
		errs = append(errs, errors.New("github.client_secret is required when github.client_id is set"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GitHubEnabled reports whether GitHub sign-in routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != ""
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// JSONLogs reports whether logs should be emitted as JSON.
func (c *Config) JSONLogs() bool {
	switch c.Log.Format {
	case "json":
		return true
	case "text":
		return false
	default:
		return c.IsProduction()
	}
}
