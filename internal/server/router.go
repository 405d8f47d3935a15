// Package server assembles the HTTP surface of the service from handlers
// built in main.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"spotto-service/internal/access"
	"spotto-service/internal/auth"
	"spotto-service/internal/checkout"
	"spotto-service/internal/metrics"
	"spotto-service/internal/places"
)

type Deps struct {
	Logger         *slog.Logger
	Webhook        http.Handler
	Checkout       *checkout.Handler
	Places         *places.Handler
	Tokens         *auth.TokenVerifier
	Gate           *access.Gate
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
}

// NewRouter wires routes and middleware. Order, outermost first: request id,
// access log, CORS, identity, access gate.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readiness", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				d.Logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("POST /webhooks/stripe", d.Webhook)
	mux.HandleFunc("POST /api/checkout", d.Checkout.Create)
	mux.HandleFunc("GET /api/me/access", d.Checkout.Status)
	d.Places.Register(mux)

	var h http.Handler = mux
	h = d.Gate.Middleware(h)
	h = auth.Middleware(d.Tokens, d.Logger)(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
	h = AccessLog(d.Logger)(h)
	h = RequestID(h)
	return h
}
