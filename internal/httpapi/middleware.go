package httpapi

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

// Response headers written for every limited request.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderDegraded  = "X-RateLimit-Degraded"
	HeaderRetry     = "Retry-After"
)

// RateLimit returns middleware that counts every request against cfg and
// answers 429 once the identifier is over its limit.
func RateLimit(l *ratelimit.Limiter, cfg ratelimit.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.CheckRequest(r.Context(), ratelimit.NewRequest(r), cfg)
			writeLimitHeaders(w, res)

			if !res.Success {
				logger.Debug("request rate limited",
					zap.String("path", r.URL.Path),
					zap.String("policy", cfg.Namespace()),
					zap.Bool("blocked", res.Blocked))
				writeTooManyRequests(w, res.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(res.Reset.Unix(), 10))
	if res.Degraded {
		h.Set(HeaderDegraded, "true")
	}
}

func writeTooManyRequests(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set(HeaderRetry, strconv.Itoa(retrySeconds(retry)))
	writeError(w, http.StatusTooManyRequests, "too many requests")
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// RequireBearer rejects requests whose Authorization header does not carry
// token as a bearer credential.
func RequireBearer(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn("admin request rejected",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeep-admin"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
