package places

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"spotto-service/internal/db"
	"spotto-service/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// BBox is a latitude/longitude rectangle, inclusive on every edge.
type BBox struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

type Filter struct {
	BBox           *BBox
	Category       string
	Moods          []string
	IncludePremium bool
	WithSummaries  bool
	Limit          int
	Offset         int
}

// Validate fills defaults and rejects impossible values with
// model.ErrBadRequest.
func (f *Filter) Validate() error {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		return errors.Wrap(model.ErrBadRequest, "offset must not be negative")
	}
	if b := f.BBox; b != nil {
		if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
			return errors.Wrap(model.ErrBadRequest, "bbox min must not exceed max")
		}
		if b.MinLat < -90 || b.MaxLat > 90 || b.MinLng < -180 || b.MaxLng > 180 {
			return errors.Wrap(model.ErrBadRequest, "bbox out of range")
		}
	}
	return nil
}

var placeColumns = []string{
	"p.id", "p.name", "p.description", "p.category", "p.moods", "p.latitude",
	"p.longitude", "p.address", "p.image_url", "p.is_premium", "p.created_at",
}

func selectPlaces(withSummaries bool) sq.SelectBuilder {
	if !withSummaries {
		return psql.Select(append(placeColumns, "NULL::text AS summary")...).From("places p")
	}
	return psql.Select(append(placeColumns, "s.summary")...).
		From("places p").
		LeftJoin("place_summaries s ON s.place_id = p.id")
}

func buildListQuery(f Filter) (string, []any, error) {
	q := selectPlaces(f.WithSummaries)

	if !f.IncludePremium {
		q = q.Where(sq.Eq{"p.is_premium": false})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"p.category": f.Category})
	}
	if len(f.Moods) > 0 {
		q = q.Where("p.moods && ?", f.Moods)
	}
	if b := f.BBox; b != nil {
		q = q.Where(sq.GtOrEq{"p.latitude": b.MinLat}).
			Where(sq.LtOrEq{"p.latitude": b.MaxLat}).
			Where(sq.GtOrEq{"p.longitude": b.MinLng}).
			Where(sq.LtOrEq{"p.longitude": b.MaxLng})
	}

	q = q.OrderBy("p.name", "p.id").Limit(uint64(f.Limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.ToSql()
}

type Repository struct {
	pool    db.Pool
	timeout time.Duration
}

// NewRepository returns a repository whose queries are bounded by timeout
// (zero means only the caller's context applies).
func NewRepository(pool db.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repository) List(ctx context.Context, f Filter) ([]model.Place, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	query, args, err := buildListQuery(f)
	if err != nil {
		return nil, errors.Wrap(err, "build places query")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.queryPlaces(ctx, query, args...)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID, withSummary bool) (*model.Place, error) {
	query, args, err := selectPlaces(withSummary).Where(sq.Eq{"p.id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build place query")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	place, err := scanPlace(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(model.ErrNotFound, "place %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select place")
	}
	return &place, nil
}

func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT category FROM places ORDER BY category`)
	if err != nil {
		return nil, errors.Wrap(err, "select categories")
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan categories")
	}
	return categories, nil
}

// ListWithoutSummary returns places that have no stored summary yet, oldest
// first.
func (r *Repository) ListWithoutSummary(ctx context.Context, limit int) ([]model.Place, error) {
	query, args, err := selectPlaces(false).
		LeftJoin("place_summaries s ON s.place_id = p.id").
		Where(sq.Eq{"s.place_id": nil}).
		OrderBy("p.created_at", "p.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build unsummarized query")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.queryPlaces(ctx, query, args...)
}

func (r *Repository) SaveSummary(ctx context.Context, placeID uuid.UUID, summary, modelName string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO place_summaries (place_id, summary, model, created_at)
	          VALUES ($1, $2, $3, now())
	          ON CONFLICT (place_id) DO UPDATE SET summary = EXCLUDED.summary, model = EXCLUDED.model, created_at = EXCLUDED.created_at`
	_, err := r.pool.Exec(ctx, query, placeID, summary, modelName)
	if db.IsForeignKeyViolation(err) {
		return errors.Wrapf(model.ErrNotFound, "place %s", placeID)
	}
	return errors.Wrap(err, "upsert place summary")
}

func (r *Repository) AddBookmark(ctx context.Context, userID string, placeID uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO bookmarks (user_id, place_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := r.pool.Exec(ctx, query, userID, placeID)
	if db.IsForeignKeyViolation(err) {
		return errors.Wrapf(model.ErrNotFound, "place %s", placeID)
	}
	return errors.Wrap(err, "insert bookmark")
}

// RemoveBookmark reports whether a bookmark existed.
func (r *Repository) RemoveBookmark(ctx context.Context, userID string, placeID uuid.UUID) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM bookmarks WHERE user_id = $1 AND place_id = $2`, userID, placeID)
	if err != nil {
		return false, errors.Wrap(err, "delete bookmark")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListBookmarks(ctx context.Context, userID string) ([]model.Bookmark, error) {
	query, args, err := selectPlaces(true).
		Column("b.created_at").
		Join("bookmarks b ON b.place_id = p.id").
		Where(sq.Eq{"b.user_id": userID}).
		OrderBy("b.created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build bookmarks query")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select bookmarks")
	}
	defer rows.Close()

	var bookmarks []model.Bookmark
	for rows.Next() {
		var p model.Place
		b := model.Bookmark{UserID: userID}
		if err := rows.Scan(placeDest(&p, &b.CreatedAt)...); err != nil {
			return nil, errors.Wrap(err, "scan bookmark")
		}
		b.PlaceID = p.ID
		b.Place = &p
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, errors.Wrap(rows.Err(), "iterate bookmarks")
}

func (r *Repository) queryPlaces(ctx context.Context, query string, args ...any) ([]model.Place, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select places")
	}
	defer rows.Close()

	places := []model.Place{}
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan place")
		}
		places = append(places, p)
	}
	return places, errors.Wrap(rows.Err(), "iterate places")
}

func scanPlace(row pgx.Row) (model.Place, error) {
	var p model.Place
	err := row.Scan(placeDest(&p)...)
	return p, err
}

func placeDest(p *model.Place, extra ...any) []any {
	return append([]any{
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Moods, &p.Latitude,
		&p.Longitude, &p.Address, &p.ImageURL, &p.IsPremium, &p.CreatedAt, &p.Summary,
	}, extra...)
}
