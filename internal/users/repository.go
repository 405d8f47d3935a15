package users

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"spotto-service/internal/db"
)

// Repository reads the local mirror of auth-provider users.
type Repository struct {
	pool db.Pool
}

func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) FindIDByEmail(ctx context.Context, email string) (string, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "select user by email")
	}
	return id, true, nil
}
