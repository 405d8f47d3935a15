package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"spotto-service/internal/db"
	"spotto-service/internal/model"
)

const paymentsSessionConstraint = "payments_session_id_key"

// Repository owns every write to memberships and payments.
type Repository struct {
	pool db.Pool
}

func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// RecordPayment inserts p unless a payment for the same session exists.
// It reports whether a row was written.
func (r *Repository) RecordPayment(ctx context.Context, tx pgx.Tx, p model.Payment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `INSERT INTO payments (id, user_id, session_id, payment_intent_id, amount, currency, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (session_id) DO NOTHING`
	tag, err := tx.Exec(ctx, query, p.ID, p.UserID, p.SessionID, nullable(p.PaymentIntentID), p.Amount, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) UpsertMembership(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error {
	query := `INSERT INTO memberships (user_id, has_access, updated_at)
	          VALUES ($1, true, $2)
	          ON CONFLICT (user_id) DO UPDATE SET has_access = true, updated_at = EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, query, userID, now)
	return err
}

// GetMembership returns nil without error when the user has no record.
func (r *Repository) GetMembership(ctx context.Context, userID string) (*model.Membership, error) {
	query := `SELECT user_id, has_access, updated_at FROM memberships WHERE user_id = $1`

	var m model.Membership
	err := r.pool.QueryRow(ctx, query, userID).Scan(&m.UserID, &m.HasAccess, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select membership")
	}
	return &m, nil
}

func (r *Repository) ListPayments(ctx context.Context, userID string) ([]model.Payment, error) {
	query := `SELECT id, user_id, session_id, COALESCE(payment_intent_id, ''), amount, currency, status, created_at
	          FROM payments WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select payments")
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.SessionID, &p.PaymentIntentID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan payment")
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
