package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"spotto-service/internal/auth"
)

// SessionPlaceholder is substituted by the processor with the real session id.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

var (
	sessionsCreatedCounter = metrics.GetOrCreateCounter(`checkout_sessions_total{result="created"}`)
	alreadyEntitledCounter = metrics.GetOrCreateCounter(`checkout_sessions_total{result="already_entitled"}`)
	sessionErrorCounter    = metrics.GetOrCreateCounter(`checkout_sessions_total{result="error"}`)
)

type AccessChecker interface {
	HasAccess(ctx context.Context, userID string) (bool, error)
}

type URLResponse struct {
	URL string `json:"url"`
}

type StatusResponse struct {
	HasAccess bool `json:"hasAccess"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	sessions      SessionCreator
	entitlements  AccessChecker
	publicBaseURL string
	appPath       string
	pricingPath   string
	logger        *slog.Logger
}

func NewHandler(sessions SessionCreator, entitlements AccessChecker, publicBaseURL, pricingPath string, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:      sessions,
		entitlements:  entitlements,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		appPath:       "/map",
		pricingPath:   pricingPath,
		logger:        logger,
	}
}

// Create handles POST /api/checkout. Callers that already have access are
// sent straight to the app instead of paying twice.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "sign_in_required"})
		return
	}

	allowed, err := h.entitlements.HasAccess(ctx, id.UserID)
	if err != nil {
		// Not fatal: at worst the user sees the payment page again.
		h.logger.WarnContext(ctx, "Error checking access before checkout", "userId", id.UserID, "error", err)
	}
	if allowed {
		alreadyEntitledCounter.Inc()
		writeJSON(w, http.StatusOK, URLResponse{URL: h.publicBaseURL + h.appPath})
		return
	}

	url, err := h.sessions.CreateSession(ctx, SessionRequest{
		UserID:     id.UserID,
		Email:      id.Email,
		SuccessURL: h.publicBaseURL + "/checkout/success?session_id=" + SessionPlaceholder,
		CancelURL:  h.publicBaseURL + h.pricingPath,
	})
	if err != nil {
		sessionErrorCounter.Inc()
		h.logger.ErrorContext(ctx, "Error creating checkout session", "userId", id.UserID, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "checkout_unavailable"})
		return
	}

	sessionsCreatedCounter.Inc()
	h.logger.InfoContext(ctx, "Checkout session created", "userId", id.UserID)
	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// Status handles GET /api/me/access. The success page polls it until the
// webhook has landed.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "sign_in_required"})
		return
	}

	allowed, err := h.entitlements.HasAccess(ctx, id.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading access", "userId", id.UserID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "storage_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{HasAccess: allowed})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
