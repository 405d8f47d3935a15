package access

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"spotto-service/internal/auth"
)

var (
	allowCounter   = metrics.GetOrCreateCounter(`access_gate_total{decision="allow"}`)
	loginCounter   = metrics.GetOrCreateCounter(`access_gate_total{decision="login"}`)
	pricingCounter = metrics.GetOrCreateCounter(`access_gate_total{decision="pricing"}`)
	errorCounter   = metrics.GetOrCreateCounter(`access_gate_total{decision="error"}`)
)

type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectPricing
)

type AccessChecker interface {
	HasAccess(ctx context.Context, userID string) (bool, error)
}

type Gate struct {
	entitlements AccessChecker
	prefixes     []string
	loginPath    string
	pricingPath  string
	logger       *slog.Logger
}

func NewGate(entitlements AccessChecker, prefixes []string, loginPath, pricingPath string, logger *slog.Logger) *Gate {
	return &Gate{
		entitlements: entitlements,
		prefixes:     prefixes,
		loginPath:    loginPath,
		pricingPath:  pricingPath,
		logger:       logger,
	}
}

// Protected reports whether path falls under one of the gated prefixes.
// "/app" covers "/app" and "/app/..." but not "/apple".
func (g *Gate) Protected(path string) bool {
	for _, p := range g.prefixes {
		p = strings.TrimRight(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Decide runs the entitlement check for a request that is already known to
// be protected. Lookup failures deny access.
func (g *Gate) Decide(ctx context.Context) Decision {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		loginCounter.Inc()
		return RedirectLogin
	}

	allowed, err := g.entitlements.HasAccess(ctx, id.UserID)
	if err != nil {
		errorCounter.Inc()
		g.logger.ErrorContext(ctx, "Error checking access, denying", "userId", id.UserID, "error", err)
		return RedirectPricing
	}
	if !allowed {
		pricingCounter.Inc()
		return RedirectPricing
	}

	allowCounter.Inc()
	return Allow
}

// Middleware gates every request under the protected prefixes. Allowed
// requests reach next unmodified.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Protected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		switch g.Decide(r.Context()) {
		case RedirectLogin:
			target := g.loginPath + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
			http.Redirect(w, r, target, http.StatusSeeOther)
		case RedirectPricing:
			http.Redirect(w, r, g.pricingPath, http.StatusSeeOther)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
