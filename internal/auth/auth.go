// Package auth verifies bearer tokens and enforces worker ownership.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/quantflow/stratd/internal/domain"
)

var (
	// ErrUnauthenticated is a missing, malformed or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is a valid identity addressing another user's worker.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// DevIdentity is injected when authentication is disabled so ownership
// filtering still exercises the same code path in development.
var DevIdentity = Identity{UserID: "dev", Username: "dev"}

type contextKey struct{}

// FromContext returns the identity the middleware stored, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// WithIdentity stores an identity on the context. Exported for tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Filter validates HS256 bearer tokens and answers ownership questions.
type Filter struct {
	secret  []byte
	enabled bool
	log     zerolog.Logger
}

// New builds a Filter. When enabled is false, Middleware injects DevIdentity
// instead of demanding a token.
func New(secret string, enabled bool, log zerolog.Logger) *Filter {
	return &Filter{
		secret:  []byte(secret),
		enabled: enabled,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// Enabled reports whether token verification is active.
func (f *Filter) Enabled() bool { return f.enabled }

type claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verify parses and validates a raw token string.
func (f *Filter) Verify(raw string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return f.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}

	id := Identity{UserID: c.UserID, Username: c.Username}
	if id.Username == "" {
		id.Username = c.Subject
	}
	if id.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Issue mints a token for an identity. Used by tests and by operator tooling.
func (f *Filter) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(f.secret)
}

// MayAccess reports whether the identity owns the worker behind the config.
func (f *Filter) MayAccess(id Identity, cfg domain.StrategyConfig) bool {
	return cfg.UserID == id.UserID
}

// Middleware authenticates requests and stores the identity on the context.
// Requests without a valid token get a 401; the ownership check (403/404) is
// the handler's job because it needs orchestrator state.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.enabled {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), DevIdentity)))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		id, err := f.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
