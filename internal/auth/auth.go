// Package auth turns the session token issued by the external auth provider
// into an Identity. It never rejects a request itself; gating is left to the
// access package and to handlers that need a signed-in caller.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	ErrNoIdentity = errors.New("no authenticated identity")
	// ErrNoToken means the request carried no token at all. It is also an
	// ErrNoIdentity.
	ErrNoToken = errors.Wrap(ErrNoIdentity, "no session token")
)

type Identity struct {
	UserID string
	Email  string
}

type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

type TokenVerifier struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	now func() time.Time
}

// WithClock replaces the time used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) { o.now = now }
}

func NewTokenVerifier(secret, cookieName string, opts ...VerifierOption) *TokenVerifier {
	o := verifierOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TokenVerifier{
		secret:     []byte(secret),
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(o.now),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Identify reads the bearer token, falling back to the session cookie.
func (v *TokenVerifier) Identify(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" && v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return Identity{}, ErrNoToken
	}
	return v.Parse(token)
}

func (v *TokenVerifier) Parse(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, errors.Wrap(ErrNoIdentity, err.Error())
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return Identity{}, errors.Wrap(ErrNoIdentity, "token without subject")
	}
	return Identity{UserID: userID, Email: strings.ToLower(claims.Email)}, nil
}

// Issue signs a token for id. The auth provider issues real tokens; this is
// used by tests and local tooling.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware attaches the caller's Identity to the request context when the
// token is valid. Requests without one pass through unchanged.
func Middleware(v *TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Identify(r)
			if err != nil {
				if !errors.Is(err, ErrNoToken) {
					logger.DebugContext(r.Context(), "Ignoring invalid session token", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
