package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gkerrors "github.com/vnykmshr/gatekeep/pkg/common/errors"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

// DefaultKeyPrefix is the base of every key written by the store.
const DefaultKeyPrefix = "ratelimit"

const scanBatch = 100

// SlidingWindowMode selects how the sliding window is executed.
type SlidingWindowMode int

const (
	// SlidingAtomic runs trim, count and add as one Lua script.
	SlidingAtomic SlidingWindowMode = iota

	// SlidingPipelined runs trim and count in one MULTI/EXEC and the add in
	// a second. Concurrent requests for one identifier may slightly exceed
	// the limit within a window.
	SlidingPipelined
)

// ParseSlidingWindowMode accepts "atomic" or "pipelined".
func ParseSlidingWindowMode(s string) (SlidingWindowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "atomic":
		return SlidingAtomic, nil
	case "pipelined":
		return SlidingPipelined, nil
	default:
		return 0, gkerrors.NewValidationError("redisstore", "sliding_window_mode", s, "unknown mode").
			WithHint("use atomic or pipelined")
	}
}

func (m SlidingWindowMode) String() string {
	if m == SlidingPipelined {
		return "pipelined"
	}
	return "atomic"
}

// Store is a ratelimit.Store backed by Redis.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	sliding SlidingWindowMode
	logger  *zap.Logger
}

var _ ratelimit.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithSlidingWindowMode selects atomic or pipelined sliding windows.
func WithSlidingWindowMode(mode SlidingWindowMode) Option {
	return func(s *Store) {
		s.sliding = mode
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store over client. The client is not contacted until the
// first request; use Ping to check connectivity at startup.
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, gkerrors.NewValidationError("redisstore", "client", nil, "cannot be nil").
			WithHint("provide a redis client")
	}

	s := &Store{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.prefix == "" || strings.ContainsAny(s.prefix, "{}") {
		return nil, gkerrors.NewValidationError("redisstore", "key_prefix", s.prefix, "must be non-empty without braces")
	}
	if s.sliding != SlidingAtomic && s.sliding != SlidingPipelined {
		return nil, gkerrors.NewValidationError("redisstore", "sliding_window_mode", int(s.sliding), "unknown mode")
	}
	return s, nil
}

// TokenBucket implements ratelimit.Store.
func (s *Store) TokenBucket(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	nowMs := now.UnixMilli()
	raw, err := tokenBucketScript.Run(ctx, s.client,
		[]string{s.key(identifier, cfg, "token_bucket")},
		nowMs, cfg.MaxRequests, millis(cfg.Window),
	).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, wrap("token_bucket", err)
	}
	if len(raw) != 3 {
		return ratelimit.Result{}, wrap("token_bucket", fmt.Errorf("unexpected script result %v", raw))
	}

	allowed, tokens, last := raw[0] == 1, int(raw[1]), time.UnixMilli(raw[2])
	reset := last.Add(cfg.Window / time.Duration(cfg.MaxRequests))
	return result(cfg, allowed, tokens, reset, now), nil
}

// SlidingWindow implements ratelimit.Store.
func (s *Store) SlidingWindow(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	key := s.key(identifier, cfg, "sliding_window")
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	if s.sliding == SlidingPipelined {
		return s.slidingPipelined(ctx, key, member, cfg, now)
	}

	raw, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		nowMs, millis(cfg.Window), cfg.MaxRequests, member,
	).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, wrap("sliding_window", err)
	}
	if len(raw) != 3 {
		return ratelimit.Result{}, wrap("sliding_window", fmt.Errorf("unexpected script result %v", raw))
	}

	allowed, count, oldest := raw[0] == 1, int(raw[1]), time.UnixMilli(raw[2])
	return result(cfg, allowed, cfg.MaxRequests-count, oldest.Add(cfg.Window), now), nil
}

func (s *Store) slidingPipelined(ctx context.Context, key, member string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	nowMs := now.UnixMilli()

	var (
		card  *redis.IntCmd
		first *redis.ZSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs-millis(cfg.Window), 10))
		card = pipe.ZCard(ctx, key)
		first = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, wrap("sliding_window_count", err)
	}

	oldest := now
	if z := first.Val(); len(z) > 0 {
		oldest = time.UnixMilli(int64(z[0].Score))
	}

	count := int(card.Val())
	if count >= cfg.MaxRequests {
		return result(cfg, false, 0, oldest.Add(cfg.Window), now), nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
		pipe.PExpire(ctx, key, time.Duration(millis(cfg.Window))*time.Millisecond)
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, wrap("sliding_window_add", err)
	}

	return result(cfg, true, cfg.MaxRequests-count-1, oldest.Add(cfg.Window), now), nil
}

// FixedWindow implements ratelimit.Store.
func (s *Store) FixedWindow(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) (ratelimit.Result, error) {
	ttl := ratelimit.FixedWindowReset(cfg, now).Sub(now)
	count, err := fixedWindowScript.Run(ctx, s.client,
		[]string{s.fixedKey(identifier, cfg, now)},
		max(1, millis(ttl)),
	).Int64()
	if err != nil {
		return ratelimit.Result{}, wrap("fixed_window", err)
	}
	return ratelimit.FixedWindowResult(count, cfg, now), nil
}

// Peek implements ratelimit.Store.
func (s *Store) Peek(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) (int, error) {
	switch cfg.Algorithm {
	case ratelimit.TokenBucket:
		vals, err := s.client.HMGet(ctx, s.key(identifier, cfg, "token_bucket"), "tokens", "last_refill").Result()
		if err != nil {
			return 0, wrap("peek", err)
		}
		state, found := parseBucket(vals)
		return ratelimit.PeekToken(state, found, cfg, now), nil

	case ratelimit.SlidingWindow:
		from := "(" + strconv.FormatInt(now.UnixMilli()-millis(cfg.Window), 10)
		n, err := s.client.ZCount(ctx, s.key(identifier, cfg, "sliding_window"), from, "+inf").Result()
		if err != nil {
			return 0, wrap("peek", err)
		}
		return max(0, cfg.MaxRequests-int(n)), nil

	default:
		n, err := s.client.Get(ctx, s.fixedKey(identifier, cfg, now)).Int()
		if errors.Is(err, redis.Nil) {
			return cfg.MaxRequests, nil
		}
		if err != nil {
			return 0, wrap("peek", err)
		}
		return max(0, cfg.MaxRequests-n), nil
	}
}

// Block implements ratelimit.Store. The marker holds the expiry instant and
// carries a matching TTL.
func (s *Store) Block(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) error {
	if cfg.BlockDuration <= 0 {
		return nil
	}
	until := now.Add(cfg.BlockDuration)
	err := s.client.Set(ctx, s.key(identifier, cfg, "block"), until.UnixMilli(), cfg.BlockDuration).Err()
	return wrap("block", err)
}

// BlockedUntil implements ratelimit.Store.
func (s *Store) BlockedUntil(ctx context.Context, identifier string, cfg ratelimit.Config, now time.Time) (time.Time, error) {
	ms, err := s.client.Get(ctx, s.key(identifier, cfg, "block")).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, wrap("blocked_until", err)
	}

	until := time.UnixMilli(ms)
	if !until.After(now) {
		return time.Time{}, nil
	}
	return until, nil
}

// Reset implements ratelimit.Store by deleting every key under the
// identifier's hash tag. On a cluster each master is scanned.
func (s *Store) Reset(ctx context.Context, identifier string) error {
	pattern := s.prefix + ":{" + escapeGlob(identifier) + "}:*"

	var deleted atomic.Int64
	scan := func(ctx context.Context, c redis.Cmdable) error {
		n, err := scanDelete(ctx, c, pattern)
		deleted.Add(n)
		return err
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, s.client)
	}
	if err != nil {
		return wrap("reset", err)
	}

	s.logger.Debug("reset identifier", zap.String("identifier", identifier), zap.Int64("keys", deleted.Load()))
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func scanDelete(ctx context.Context, c redis.Cmdable, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (s *Store) key(identifier string, cfg ratelimit.Config, kind string) string {
	return s.prefix + ":{" + identifier + "}:" + cfg.Namespace() + ":" + kind
}

func (s *Store) fixedKey(identifier string, cfg ratelimit.Config, now time.Time) string {
	return s.key(identifier, cfg, "fixed_window") + ":" + strconv.FormatInt(ratelimit.FixedWindowIndex(cfg, now), 10)
}

func parseBucket(vals []interface{}) (ratelimit.BucketState, bool) {
	if len(vals) != 2 {
		return ratelimit.BucketState{}, false
	}
	tokensStr, ok1 := vals[0].(string)
	lastStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return ratelimit.BucketState{}, false
	}
	tokens, err1 := strconv.Atoi(tokensStr)
	last, err2 := strconv.ParseInt(lastStr, 10, 64)
	if err1 != nil || err2 != nil {
		return ratelimit.BucketState{}, false
	}
	return ratelimit.BucketState{Tokens: tokens, LastRefill: time.UnixMilli(last)}, true
}

func result(cfg ratelimit.Config, allowed bool, remaining int, reset, now time.Time) ratelimit.Result {
	if allowed {
		return ratelimit.Result{
			Success:   true,
			Limit:     cfg.MaxRequests,
			Remaining: max(0, remaining),
			Reset:     reset,
		}
	}
	retry := reset.Sub(now)
	if retry < time.Millisecond {
		retry = time.Millisecond
	}
	return ratelimit.Result{
		Limit:      cfg.MaxRequests,
		Reset:      reset,
		RetryAfter: retry,
	}
}

// millis rounds d up to whole milliseconds, at least one.
func millis(d time.Duration) int64 {
	ms := int64((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
