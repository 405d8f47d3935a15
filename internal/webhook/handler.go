// Package webhook serves the payment processor's signed event deliveries.
//
// Every authenticated delivery that this service understands, or chooses to
// ignore, is answered with 200 so the processor stops retrying it. Requests
// that cannot be authenticated or decoded get 400. Storage failures get 500,
// which makes the processor redeliver later; the session id uniqueness in the
// entitlement writer keeps the redelivery from double counting.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spotto-service/internal/entitlement"
	"spotto-service/internal/event"
	"spotto-service/internal/logcontext"
	"spotto-service/internal/model"
	"spotto-service/internal/signature"
)

const (
	SignatureHeader = "Stripe-Signature"

	DefaultMaxBodyBytes int64 = 1 << 20

	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

var (
	processedCounter        = metrics.GetOrCreateCounter(`webhook_requests_total{result="processed"}`)
	duplicateCounter        = metrics.GetOrCreateCounter(`webhook_requests_total{result="duplicate"}`)
	ignoredCounter          = metrics.GetOrCreateCounter(`webhook_requests_total{result="ignored"}`)
	invalidSignatureCounter = metrics.GetOrCreateCounter(`webhook_requests_total{result="invalid_signature"}`)
	malformedCounter        = metrics.GetOrCreateCounter(`webhook_requests_total{result="malformed"}`)
	unresolvedCounter       = metrics.GetOrCreateCounter(`webhook_requests_total{result="unresolved_user"}`)
	storageErrorCounter     = metrics.GetOrCreateCounter(`webhook_requests_total{result="storage_error"}`)

	requestDurationHistogram = metrics.GetOrCreateHistogram(`webhook_request_duration_milliseconds`)
)

type Verifier interface {
	Verify(payload []byte, header string) error
}

type Resolver interface {
	Resolve(ctx context.Context, e event.CheckoutCompleted) (model.Grant, error)
}

type Granter interface {
	Grant(ctx context.Context, g model.Grant) (entitlement.Result, error)
}

type Response struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	verifier     Verifier
	resolver     Resolver
	granter      Granter
	timeout      time.Duration
	maxBodyBytes int64
	logger       *slog.Logger
	tracer       trace.Tracer
}

type Option func(*Handler)

// WithTimeout bounds the work done for a single delivery.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(verifier Verifier, resolver Resolver, granter Granter, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		verifier:     verifier,
		resolver:     resolver,
		granter:      granter,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logger,
		tracer:       otel.Tracer("spotto/webhook"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	defer func() {
		requestDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx, span := h.tracer.Start(r.Context(), "webhook.Handle")
	defer span.End()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		malformedCounter.Inc()
		h.logger.WarnContext(ctx, "Error reading webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable_body"})
		return
	}

	// Nothing from the body is trusted, or even parsed, before this check.
	if err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader)); err != nil {
		invalidSignatureCounter.Inc()
		span.SetStatus(codes.Error, "invalid signature")
		h.logger.WarnContext(ctx, "Rejected webhook signature", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_signature"})
		return
	}

	evt, err := event.Parse(payload)
	if err != nil {
		malformedCounter.Inc()
		span.SetStatus(codes.Error, "malformed event")
		h.logger.WarnContext(ctx, "Rejected malformed webhook event", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed_event"})
		return
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("eventId", evt.EventID()), slog.String("eventType", evt.EventType()))
	span.SetAttributes(attribute.String("event.id", evt.EventID()), attribute.String("event.type", evt.EventType()))

	switch e := evt.(type) {
	case event.CheckoutCompleted:
		h.handleCheckout(ctx, w, span, e)
	case event.Ignored:
		ignoredCounter.Inc()
		h.logger.InfoContext(ctx, "Acknowledged webhook event without action", "reason", e.Reason)
		writeJSON(w, http.StatusOK, Response{Received: true, Status: StatusIgnored})
	}
}

func (h *Handler) handleCheckout(ctx context.Context, w http.ResponseWriter, span trace.Span, e event.CheckoutCompleted) {
	ctx = logcontext.AppendCtx(ctx, slog.String("sessionId", e.SessionID))

	grant, err := h.resolver.Resolve(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		h.writeError(ctx, w, err)
		return
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("userId", grant.UserID))
	result, err := h.granter.Grant(ctx, grant)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		h.writeError(ctx, w, err)
		return
	}

	if result.Duplicate {
		duplicateCounter.Inc()
		writeJSON(w, http.StatusOK, Response{Received: true, Status: StatusDuplicate})
		return
	}

	processedCounter.Inc()
	writeJSON(w, http.StatusOK, Response{Received: true, Status: StatusProcessed})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrUnresolvedUser):
		unresolvedCounter.Inc()
		h.logger.WarnContext(ctx, "Checkout could not be attributed to a user", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unresolved_user"})
	case errors.Is(err, model.ErrBadRequest):
		malformedCounter.Inc()
		h.logger.WarnContext(ctx, "Rejected incomplete checkout", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "malformed_event"})
	default:
		storageErrorCounter.Inc()
		h.logger.ErrorContext(ctx, "Error handling checkout, processor will retry", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "storage_unavailable"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var _ Verifier = (*signature.Verifier)(nil)
