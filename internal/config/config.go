// Package config loads daemon settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	gkerrors "github.com/vnykmshr/gatekeep/pkg/common/errors"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit/redisstore"
	"github.com/vnykmshr/gatekeep/pkg/reclaim"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config is the complete daemon configuration.
type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	Store string
	Redis RedisConfig

	FallbackCapacity int
	ReclaimInterval  time.Duration

	Metrics MetricsConfig

	// LoginUser and LoginPassword back the demo login endpoint. An empty
	// password rejects every login.
	LoginUser     string
	LoginPassword string

	// AdminToken is the bearer token for the admin routes. Empty disables them.
	AdminToken string

	// Policies holds one rate limit per endpoint class, starting from the
	// built-in presets and overridden by RATE_LIMIT_<CLASS>.
	Policies map[string]ratelimit.Config
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Timeout   time.Duration
	KeyPrefix string
	Sliding   redisstore.SlidingWindowMode
}

// MetricsConfig controls Prometheus instrumentation and the /metrics route.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:      getEnv("APP_ENV", "production"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Store:    strings.ToLower(getEnv("STORE", StoreRedis)),

		LoginUser:     getEnv("LOGIN_USER", "demo"),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),

		Metrics: MetricsConfig{
			Namespace: getEnv("METRICS_NAMESPACE", metrics.DefaultNamespace),
		},

		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", redisstore.DefaultKeyPrefix),
		},
	}

	var err error
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.Redis.Timeout, err = getDuration("REDIS_TIMEOUT", ratelimit.DefaultTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Redis.Sliding, err = redisstore.ParseSlidingWindowMode(os.Getenv("SLIDING_WINDOW_MODE")); err != nil {
		return Config{}, err
	}
	if cfg.FallbackCapacity, err = getInt("FALLBACK_CAPACITY", ratelimit.DefaultFallbackCapacity); err != nil {
		return Config{}, err
	}
	if cfg.ReclaimInterval, err = getDuration("RECLAIM_INTERVAL", reclaim.DefaultInterval); err != nil {
		return Config{}, err
	}
	if cfg.Metrics.Enabled, err = getBool("METRICS_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.Policies, err = loadPolicies(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that are not validated while parsing.
func (c Config) Validate() error {
	switch c.Store {
	case StoreRedis, StoreMemory:
	default:
		return gkerrors.NewValidationError("config", "STORE", c.Store, "unknown store").
			WithHint("use redis or memory")
	}
	if c.FallbackCapacity <= 0 {
		return gkerrors.NewValidationError("config", "FALLBACK_CAPACITY", c.FallbackCapacity, "must be positive")
	}
	if c.ReclaimInterval <= 0 {
		return gkerrors.NewValidationError("config", "RECLAIM_INTERVAL", c.ReclaimInterval, "must be positive")
	}
	if c.Redis.Timeout < 0 {
		return gkerrors.NewValidationError("config", "REDIS_TIMEOUT", c.Redis.Timeout, "cannot be negative").
			WithHint("use 0 to disable the per-call timeout")
	}
	if c.Redis.DB < 0 {
		return gkerrors.NewValidationError("config", "REDIS_DB", c.Redis.DB, "cannot be negative")
	}
	return nil
}

// Policy returns the configured limit for an endpoint class.
func (c Config) Policy(class string) (ratelimit.Config, bool) {
	p, ok := c.Policies[class]
	return p, ok
}

// IsDevelopment reports whether Env names a development environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

func loadPolicies() (map[string]ratelimit.Config, error) {
	policies := ratelimit.Presets()
	for _, class := range ratelimit.PresetClasses() {
		key := "RATE_LIMIT_" + strings.ToUpper(class)
		spec := os.Getenv(key)
		if spec == "" {
			continue
		}
		cfg, err := ratelimit.ParseConfig(class, spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		policies[class] = cfg
	}
	return policies, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, gkerrors.NewValidationError("config", key, v, "not an integer")
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, gkerrors.NewValidationError("config", key, v, "not a boolean")
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, gkerrors.NewValidationError("config", key, v, "not a duration").
			WithHint("use Go duration syntax such as 500ms or 10m")
	}
	return d, nil
}
