package ratelimit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vnykmshr/gatekeep/pkg/common/errors"
	"github.com/vnykmshr/gatekeep/pkg/common/validation"
)

// Algorithm selects the counting strategy for a Config.
type Algorithm string

const (
	// TokenBucket refills MaxRequests tokens per Window and consumes one per request.
	TokenBucket Algorithm = "token_bucket"

	// SlidingWindow counts requests in the trailing Window.
	SlidingWindow Algorithm = "sliding_window"

	// FixedWindow counts requests in discrete floor(now/Window) buckets.
	// Up to 2×MaxRequests may pass in a short span straddling a boundary.
	FixedWindow Algorithm = "fixed_window"
)

// ParseAlgorithm accepts the canonical names plus their dashed forms.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "token_bucket":
		return TokenBucket, nil
	case "sliding_window":
		return SlidingWindow, nil
	case "fixed_window":
		return FixedWindow, nil
	default:
		return "", errors.NewValidationError("ratelimit", "algorithm", s, "unknown algorithm").
			WithHint("use token_bucket, sliding_window or fixed_window")
	}
}

// Config describes one endpoint class. It is immutable once validated.
type Config struct {
	// Algorithm is the counting strategy.
	Algorithm Algorithm

	// MaxRequests is the bucket capacity or the per-window request budget.
	MaxRequests int

	// Window is the refill period or the counting window.
	Window time.Duration

	// BlockDuration, when positive, blocks an identifier for this long after
	// its first denied request.
	BlockDuration time.Duration

	// Prefix namespaces counters so endpoint classes do not share budgets.
	Prefix string
}

// Validate reports the first invalid field. Call it when loading
// configuration so a bad policy fails at startup rather than per request.
func (c Config) Validate() error {
	switch c.Algorithm {
	case TokenBucket, SlidingWindow, FixedWindow:
	default:
		return errors.NewValidationError("ratelimit", "algorithm", c.Algorithm, "unknown algorithm").
			WithHint("use token_bucket, sliding_window or fixed_window")
	}
	if err := validation.ValidatePositive("ratelimit", "max_requests", c.MaxRequests); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("ratelimit", "window", c.Window); err != nil {
		return err
	}
	if c.Algorithm == TokenBucket && c.Window < time.Duration(c.MaxRequests) {
		return errors.NewValidationError("ratelimit", "window", c.Window, "shorter than one nanosecond per token").
			WithHint("lower max_requests or widen the window")
	}
	if err := validation.ValidateNonNegativeDuration("ratelimit", "block_duration", c.BlockDuration); err != nil {
		return err
	}
	if strings.ContainsAny(c.Prefix, ":{}") {
		return errors.NewValidationError("ratelimit", "prefix", c.Prefix, "must not contain ':', '{' or '}'")
	}
	return nil
}

// Namespace returns Prefix, or "default" when unset.
func (c Config) Namespace() string {
	if c.Prefix == "" {
		return "default"
	}
	return c.Prefix
}

// String renders the config in the same form ParseConfig accepts.
func (c Config) String() string {
	s := fmt.Sprintf("%s:%d:%s", c.Algorithm, c.MaxRequests, c.Window)
	if c.BlockDuration > 0 {
		s += ":" + c.BlockDuration.String()
	}
	return s
}

// ParseConfig parses "algorithm:max:window[:block]", for example
// "sliding_window:30:1m" or "fixed_window:10:1m:5m". The result is validated.
func ParseConfig(prefix, spec string) (Config, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Config{}, errors.NewValidationError("ratelimit", "spec", spec, "malformed policy").
			WithHint("expected algorithm:max:window[:block]")
	}

	algorithm, err := ParseAlgorithm(parts[0])
	if err != nil {
		return Config{}, err
	}
	max, err := strconv.Atoi(parts[1])
	if err != nil {
		return Config{}, errors.NewValidationError("ratelimit", "max_requests", parts[1], "not an integer")
	}
	window, err := time.ParseDuration(parts[2])
	if err != nil {
		return Config{}, errors.NewValidationError("ratelimit", "window", parts[2], "not a duration")
	}

	cfg := Config{
		Algorithm:   algorithm,
		MaxRequests: max,
		Window:      window,
		Prefix:      prefix,
	}
	if len(parts) == 4 {
		block, err := time.ParseDuration(parts[3])
		if err != nil {
			return Config{}, errors.NewValidationError("ratelimit", "block_duration", parts[3], "not a duration")
		}
		cfg.BlockDuration = block
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Built-in endpoint classes.
const (
	ClassAuth    = "auth"
	ClassAPI     = "api"
	ClassSearch  = "search"
	ClassWebhook = "webhook"
	ClassStrict  = "strict"
)

var presets = map[string]Config{
	ClassAuth: {
		Algorithm:     SlidingWindow,
		MaxRequests:   5,
		Window:        15 * time.Minute,
		BlockDuration: 15 * time.Minute,
		Prefix:        ClassAuth,
	},
	ClassAPI: {
		Algorithm:   TokenBucket,
		MaxRequests: 100,
		Window:      time.Minute,
		Prefix:      ClassAPI,
	},
	ClassSearch: {
		Algorithm:   SlidingWindow,
		MaxRequests: 30,
		Window:      time.Minute,
		Prefix:      ClassSearch,
	},
	ClassWebhook: {
		Algorithm:   FixedWindow,
		MaxRequests: 1000,
		Window:      time.Hour,
		Prefix:      ClassWebhook,
	},
	ClassStrict: {
		Algorithm:     FixedWindow,
		MaxRequests:   10,
		Window:        time.Minute,
		BlockDuration: 5 * time.Minute,
		Prefix:        ClassStrict,
	},
}

// Preset returns the built-in config for an endpoint class.
func Preset(class string) (Config, bool) {
	cfg, ok := presets[class]
	return cfg, ok
}

// Presets returns a copy of all built-in endpoint classes.
func Presets() map[string]Config {
	out := make(map[string]Config, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}

// PresetClasses returns the built-in class names in sorted order.
func PresetClasses() []string {
	classes := make([]string, 0, len(presets))
	for k := range presets {
		classes = append(classes, k)
	}
	sort.Strings(classes)
	return classes
}
