package authguard

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vnykmshr/gatekeep/pkg/common/validation"
)

// Config controls both the attempt/lockout axis and the suspicion axis.
type Config struct {
	// Enabled turns the guard off entirely when false.
	Enabled bool

	// MaxAttempts is the number of checks allowed per Window before lockout.
	MaxAttempts int

	// Window is the attempt counting window, measured from the first attempt.
	Window time.Duration

	// LockoutDuration is how long a client stays locked after MaxAttempts.
	LockoutDuration time.Duration

	// SuspiciousThreshold is the failure count per escalation level.
	SuspiciousThreshold int

	// BlockDuration is the hard block applied on reaching level 3.
	BlockDuration time.Duration

	// MaxEntries caps the attempt and suspicion maps separately; beyond it
	// the oldest entries are evicted on the next check or new failure.
	MaxEntries int

	// EvictFraction is the share of entries dropped by an emergency eviction.
	EvictFraction float64

	// IdleExpiry is how long a suspicion entry without failures is kept.
	IdleExpiry time.Duration
}

// ProductionConfig returns the strict profile.
func ProductionConfig() Config {
	return Config{
		Enabled:             true,
		MaxAttempts:         5,
		Window:              15 * time.Minute,
		LockoutDuration:     30 * time.Minute,
		SuspiciousThreshold: 10,
		BlockDuration:       time.Hour,
		MaxEntries:          5000,
		EvictFraction:       0.3,
		IdleExpiry:          24 * time.Hour,
	}
}

// DevelopmentConfig returns a forgiving profile for local work.
func DevelopmentConfig() Config {
	return Config{
		Enabled:             true,
		MaxAttempts:         20,
		Window:              15 * time.Minute,
		LockoutDuration:     5 * time.Minute,
		SuspiciousThreshold: 25,
		BlockDuration:       10 * time.Minute,
		MaxEntries:          5000,
		EvictFraction:       0.3,
		IdleExpiry:          24 * time.Hour,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validation.ValidatePositive("authguard", "max_attempts", c.MaxAttempts); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("authguard", "window", c.Window); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("authguard", "lockout_duration", c.LockoutDuration); err != nil {
		return err
	}
	if err := validation.ValidatePositive("authguard", "suspicious_threshold", c.SuspiciousThreshold); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("authguard", "block_duration", c.BlockDuration); err != nil {
		return err
	}
	if err := validation.ValidatePositive("authguard", "max_entries", c.MaxEntries); err != nil {
		return err
	}
	if err := validation.ValidateFraction("authguard", "evict_fraction", c.EvictFraction); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("authguard", "idle_expiry", c.IdleExpiry); err != nil {
		return err
	}
	return nil
}

// Environment variables read by EnvConfig.
const (
	EnvAppEnv              = "APP_ENV"
	EnvEnabled             = "AUTH_GUARD_ENABLED"
	EnvMaxAttempts         = "AUTH_GUARD_MAX_ATTEMPTS"
	EnvWindow              = "AUTH_GUARD_WINDOW"
	EnvLockout             = "AUTH_GUARD_LOCKOUT"
	EnvSuspiciousThreshold = "AUTH_GUARD_SUSPICIOUS_THRESHOLD"
	EnvBlockDuration       = "AUTH_GUARD_BLOCK"
	EnvMaxEntries          = "AUTH_GUARD_MAX_ENTRIES"
)

// EnvConfig selects a profile from APP_ENV and applies AUTH_GUARD_*
// overrides. It reads the environment on every call so a flag flipped at
// runtime takes effect on the next check. Unparsable overrides are ignored.
func EnvConfig() Config {
	var cfg Config
	switch strings.ToLower(os.Getenv(EnvAppEnv)) {
	case "development", "dev", "local", "test":
		cfg = DevelopmentConfig()
	default:
		cfg = ProductionConfig()
	}

	if v, ok := lookupBool(EnvEnabled); ok {
		cfg.Enabled = v
	}
	if v, ok := lookupInt(EnvMaxAttempts); ok {
		cfg.MaxAttempts = v
	}
	if v, ok := lookupDuration(EnvWindow); ok {
		cfg.Window = v
	}
	if v, ok := lookupDuration(EnvLockout); ok {
		cfg.LockoutDuration = v
	}
	if v, ok := lookupInt(EnvSuspiciousThreshold); ok {
		cfg.SuspiciousThreshold = v
	}
	if v, ok := lookupDuration(EnvBlockDuration); ok {
		cfg.BlockDuration = v
	}
	if v, ok := lookupInt(EnvMaxEntries); ok {
		cfg.MaxEntries = v
	}
	return cfg
}

func lookupBool(key string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return v, err == nil
}

func lookupInt(key string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	return v, err == nil
}

func lookupDuration(key string) (time.Duration, bool) {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	return v, err == nil
}
