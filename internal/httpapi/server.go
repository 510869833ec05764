// Package httpapi is the reference HTTP binding for the engine: a chi
// router with rate-limit middleware, a guarded login endpoint and
// token-protected admin routes for inspecting and clearing limiter state.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vnykmshr/gatekeep/pkg/authguard"
	gklog "github.com/vnykmshr/gatekeep/internal/log"
	gkerrors "github.com/vnykmshr/gatekeep/pkg/common/errors"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

// Authenticator verifies login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// StaticAuthenticator accepts a single configured credential pair. An empty
// password rejects everything.
type StaticAuthenticator struct {
	Username string
	Password string
}

// Authenticate compares in constant time.
func (s StaticAuthenticator) Authenticate(_ context.Context, username, password string) (bool, error) {
	if s.Password == "" {
		return false, nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.Password)) == 1
	return userOK && passOK, nil
}

// Deps are the components the router is built from.
type Deps struct {
	Limiter       *ratelimit.Limiter
	Guard         *authguard.Guard
	Policies      map[string]ratelimit.Config
	Authenticator Authenticator
	Logger        *zap.Logger

	// Ready reports store health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error

	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler

	// AdminToken guards the /admin routes as a bearer token. When empty the
	// admin routes are not mounted.
	AdminToken string
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler. Limiter, Guard and Authenticator are
// required; missing policies fall back to the built-in presets.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Limiter == nil {
		return nil, gkerrors.NewValidationError("httpapi", "limiter", nil, "cannot be nil")
	}
	if d.Guard == nil {
		return nil, gkerrors.NewValidationError("httpapi", "guard", nil, "cannot be nil")
	}
	if d.Authenticator == nil {
		return nil, gkerrors.NewValidationError("httpapi", "authenticator", nil, "cannot be nil")
	}
	d.Logger = gklog.OrNop(d.Logger)
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(d.Limiter, s.policy(ratelimit.ClassAPI), d.Logger))
		r.Get("/hello", s.hello)
		r.With(RateLimit(d.Limiter, s.policy(ratelimit.ClassSearch), d.Logger)).Get("/search", s.search)
	})

	r.With(RateLimit(d.Limiter, s.policy(ratelimit.ClassWebhook), d.Logger)).Post("/webhooks", s.webhook)

	r.With(RateLimit(d.Limiter, s.policy(ratelimit.ClassAuth), d.Logger)).Post("/auth/login", s.login)

	if d.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(d.Limiter, s.policy(ratelimit.ClassStrict), d.Logger))
			r.Use(RequireBearer(d.AdminToken, d.Logger))
			r.Get("/admin/limits/{identifier}", s.inspect)
			r.Delete("/admin/limits/{identifier}", s.reset)
		})
	} else {
		d.Logger.Info("admin routes disabled, no admin token configured")
	}

	return r, nil
}

func (s *server) policy(class string) ratelimit.Config {
	if cfg, ok := s.Policies[class]; ok {
		return cfg
	}
	cfg, _ := ratelimit.Preset(class)
	return cfg
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			// Degraded, not down: the limiter keeps answering from memory.
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) hello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"query": r.URL.Query().Get("q")})
}

func (s *server) webhook(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusAccepted)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	req := ratelimit.NewRequest(r)

	check := s.Guard.Check(r.Context(), req)
	if !check.Allowed {
		s.Logger.Info("login refused",
			zap.String("identifier", check.Identifier),
			zap.Int("escalation_level", check.EscalationLevel))
		writeTooManyRequests(w, check.RetryAfter)
		return
	}

	if err := s.Guard.ApplyProgressiveDelay(r.Context(), req); err != nil {
		return
	}

	var body loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login request")
		return
	}

	ok, err := s.Authenticator.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		s.Logger.Error("authenticator failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}

	s.Guard.Record(r.Context(), req, ok)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated"})
}

type limitStatus struct {
	Identifier string            `json:"identifier"`
	Remaining  map[string]int    `json:"remaining"`
	Auth       *authguardSummary `json:"auth,omitempty"`
}

type authguardSummary struct {
	Attempts        int        `json:"attempts"`
	FailedAttempts  int        `json:"failed_attempts"`
	EscalationLevel int        `json:"escalation_level"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	BlockedUntil    *time.Time `json:"blocked_until,omitempty"`
}

func (s *server) inspect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")

	status := limitStatus{Identifier: id, Remaining: make(map[string]int)}
	for _, class := range ratelimit.PresetClasses() {
		status.Remaining[class] = s.Limiter.Remaining(r.Context(), id, s.policy(class))
	}
	if snap, ok := s.Guard.Snapshot(id); ok {
		status.Auth = &authguardSummary{
			Attempts:        snap.Attempts,
			FailedAttempts:  snap.FailedAttempts,
			EscalationLevel: snap.EscalationLevel,
			LockedUntil:     nonZero(snap.LockedUntil),
			BlockedUntil:    nonZero(snap.BlockedUntil),
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identifier")

	s.Guard.Reset(id)
	if err := s.Limiter.Reset(r.Context(), id); err != nil {
		s.Logger.Warn("reset incomplete", zap.String("identifier", id), zap.Error(err))
		if gkerrors.IsTemporary(err) {
			w.Header().Set(HeaderRetry, "1")
			writeError(w, http.StatusServiceUnavailable, "store unavailable, local state cleared")
			return
		}
		writeError(w, http.StatusInternalServerError, "reset failed, local state cleared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
