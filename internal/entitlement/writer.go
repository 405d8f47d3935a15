package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spotto-service/internal/db"
	"spotto-service/internal/message"
	"spotto-service/internal/model"
)

var (
	grantGrantedCounter   = metrics.GetOrCreateCounter(`entitlement_grants_total{result="granted"}`)
	grantDuplicateCounter = metrics.GetOrCreateCounter(`entitlement_grants_total{result="duplicate"}`)
	grantErrorCounter     = metrics.GetOrCreateCounter(`entitlement_grants_total{result="error"}`)
	notifyErrorCounter    = metrics.GetOrCreateCounter(`entitlement_notify_errors_total`)

	grantDurationHistogram = metrics.GetOrCreateHistogram(`entitlement_grant_duration_milliseconds`)
)

// Store is the transactional half of Repository used by Writer.
type Store interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	RecordPayment(ctx context.Context, tx pgx.Tx, p model.Payment) (bool, error)
	UpsertMembership(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error
}

// Notifier tells other instances that a user's access changed.
type Notifier interface {
	EntitlementGranted(ctx context.Context, msg message.EntitlementGranted) error
}

// Invalidator drops cached access decisions.
type Invalidator interface {
	Invalidate(userID string)
}

type Result struct {
	// Duplicate is set when the session was already recorded and nothing
	// was written.
	Duplicate bool
}

type Writer struct {
	store       Store
	notifier    Notifier
	invalidator Invalidator
	timeout     time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type WriterOption func(*Writer)

func WithNotifier(n Notifier) WriterOption {
	return func(w *Writer) { w.notifier = n }
}

func WithInvalidator(i Invalidator) WriterOption {
	return func(w *Writer) { w.invalidator = i }
}

// WithTimeout bounds the whole transaction.
func WithTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.timeout = d }
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

func NewWriter(store Store, logger *slog.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("spotto/entitlement"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Grant records the payment for g.SessionID and gives g.UserID access, in one
// transaction. A session that was already recorded is reported as Duplicate
// and leaves both tables untouched. Storage failures wrap
// model.ErrStorageTransient; nothing is committed in that case, so a
// redelivery of the same event can succeed later.
func (w *Writer) Grant(ctx context.Context, g model.Grant) (Result, error) {
	if g.UserID == "" || g.SessionID == "" {
		return Result{}, errors.Wrap(model.ErrBadRequest, "grant requires user and session")
	}

	startTime := time.Now()
	defer func() {
		grantDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx, span := w.tracer.Start(ctx, "entitlement.Grant", trace.WithAttributes(
		attribute.String("session.id", g.SessionID),
		attribute.String("user.id", g.UserID),
	))
	defer span.End()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.grant(ctx, g)
	if err != nil {
		grantErrorCounter.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		w.logger.ErrorContext(ctx, "Error granting entitlement", "error", err)
		return Result{}, err
	}

	if result.Duplicate {
		grantDuplicateCounter.Inc()
		span.SetAttributes(attribute.Bool("duplicate", true))
		w.logger.InfoContext(ctx, "Checkout session already recorded, skipping")
		return result, nil
	}

	grantGrantedCounter.Inc()
	w.logger.InfoContext(ctx, "Entitlement granted", "amount", g.Amount, "currency", g.Currency)
	w.afterCommit(ctx, g)
	return result, nil
}

func (w *Writer) grant(ctx context.Context, g model.Grant) (Result, error) {
	now := w.now().UTC()

	tx, err := w.store.BeginTx(ctx)
	if err != nil {
		return Result{}, transient("begin transaction", err)
	}
	// No-op once committed.
	defer tx.Rollback(context.WithoutCancel(ctx))

	inserted, err := w.store.RecordPayment(ctx, tx, model.Payment{
		UserID:          g.UserID,
		SessionID:       g.SessionID,
		PaymentIntentID: g.PaymentIntentID,
		Amount:          g.Amount,
		Currency:        g.Currency,
		Status:          model.PaymentStatusSucceeded,
		CreatedAt:       now,
	})
	if err != nil {
		// A concurrent delivery of the same session won the race.
		if db.IsUniqueViolation(err, paymentsSessionConstraint) {
			return Result{Duplicate: true}, nil
		}
		return Result{}, transient("record payment", err)
	}
	if !inserted {
		return Result{Duplicate: true}, nil
	}

	if err := w.store.UpsertMembership(ctx, tx, g.UserID, now); err != nil {
		return Result{}, transient("upsert membership", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsUniqueViolation(err, paymentsSessionConstraint) {
			return Result{Duplicate: true}, nil
		}
		return Result{}, transient("commit", err)
	}
	return Result{}, nil
}

// afterCommit runs the best-effort follow-ups. The grant is durable at this
// point, so failures here are logged and never returned.
func (w *Writer) afterCommit(ctx context.Context, g model.Grant) {
	if w.invalidator != nil {
		w.invalidator.Invalidate(g.UserID)
	}
	if w.notifier == nil {
		return
	}
	err := w.notifier.EntitlementGranted(ctx, message.EntitlementGranted{
		UserID:    g.UserID,
		SessionID: g.SessionID,
		GrantedAt: w.now().UTC(),
	})
	if err != nil {
		notifyErrorCounter.Inc()
		w.logger.WarnContext(ctx, "Error publishing entitlement event", "error", err)
	}
}

// transient keeps both the sentinel and the driver error matchable with
// errors.Is, which pkg/errors.Wrap cannot do.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorageTransient, op, err)
}
