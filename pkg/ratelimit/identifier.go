package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIdentifier is returned when a request carries nothing to key on.
const UnknownIdentifier = "unknown"

// Request is the minimal request descriptor the engine consumes.
type Request struct {
	Method   string
	Path     string
	Headers  http.Header
	ClientIP string
}

// NewRequest builds a descriptor from an *http.Request. ClientIP is the host
// part of RemoteAddr.
func NewRequest(r *http.Request) Request {
	return Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		Headers:  r.Header,
		ClientIP: hostOnly(r.RemoteAddr),
	}
}

// Resolver derives the partition key for a request.
type Resolver struct {
	UserIDHeader  string
	APIKeyHeader  string
	SessionCookie string
}

// DefaultResolver keys on X-User-Id, X-Api-Key and the "session" cookie.
var DefaultResolver = Resolver{
	UserIDHeader:  "X-User-Id",
	APIKeyHeader:  "X-Api-Key",
	SessionCookie: "session",
}

const (
	apiKeyPrefixLen  = 8
	sessionPrefixLen = 16
)

// ResolveIdentifier resolves req with DefaultResolver.
func ResolveIdentifier(req Request) string {
	return DefaultResolver.Resolve(req)
}

// Resolve returns the first available of user id, API key prefix, session
// prefix and client IP, each with a type prefix, or UnknownIdentifier.
// Secrets are truncated so full credentials never become counter keys.
func (r Resolver) Resolve(req Request) string {
	if id := headerValue(req.Headers, r.UserIDHeader); id != "" {
		return "user:" + id
	}
	if key := headerValue(req.Headers, r.APIKeyHeader); key != "" {
		return "apikey:" + truncate(key, apiKeyPrefixLen)
	}
	if sid := r.session(req.Headers); sid != "" {
		return "session:" + truncate(sid, sessionPrefixLen)
	}
	if ip := clientIP(req); ip != "" {
		return "ip:" + ip
	}
	return UnknownIdentifier
}

func (r Resolver) session(h http.Header) string {
	if r.SessionCookie == "" || h == nil {
		return ""
	}
	for _, line := range h.Values("Cookie") {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == r.SessionCookie && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// connection address.
func clientIP(req Request) string {
	if req.Headers != nil {
		for _, v := range req.Headers.Values("X-Forwarded-For") {
			for _, hop := range strings.Split(v, ",") {
				if hop = strings.TrimSpace(hop); hop != "" {
					return hop
				}
			}
		}
		if ip := strings.TrimSpace(req.Headers.Get("X-Real-Ip")); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(req.ClientIP)
}

func headerValue(h http.Header, name string) string {
	if h == nil || name == "" {
		return ""
	}
	return strings.TrimSpace(h.Get(name))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
