package places

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"spotto-service/internal/auth"
	"spotto-service/internal/model"
)

type Store interface {
	List(ctx context.Context, f Filter) ([]model.Place, error)
	Get(ctx context.Context, id uuid.UUID, withSummary bool) (*model.Place, error)
	Categories(ctx context.Context) ([]string, error)
	AddBookmark(ctx context.Context, userID string, placeID uuid.UUID) error
	RemoveBookmark(ctx context.Context, userID string, placeID uuid.UUID) (bool, error)
	ListBookmarks(ctx context.Context, userID string) ([]model.Bookmark, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the public preview routes and the member routes on mux.
// The member routes rely on the access gate in front of mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/places", h.PublicList)
	mux.HandleFunc("GET /api/categories", h.Categories)

	mux.HandleFunc("GET /app/places", h.MemberList)
	mux.HandleFunc("GET /app/places/{id}", h.MemberGet)
	mux.HandleFunc("GET /app/bookmarks", h.ListBookmarks)
	mux.HandleFunc("PUT /app/bookmarks/{placeID}", h.AddBookmark)
	mux.HandleFunc("DELETE /app/bookmarks/{placeID}", h.RemoveBookmark)
}

// PublicList serves the free preview: regular places only, no summaries.
func (h *Handler) PublicList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	f.IncludePremium = false
	f.WithSummaries = false
	h.list(w, r, f)
}

func (h *Handler) MemberList(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	f.IncludePremium = true
	f.WithSummaries = true
	h.list(w, r, f)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, f Filter) {
	places, err := h.store.List(r.Context(), f)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (h *Handler) MemberGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	place, err := h.store.Get(r.Context(), id, true)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.Categories(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "sign_in_required"})
		return
	}
	bookmarks, err := h.store.ListBookmarks(r.Context(), id.UserID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if bookmarks == nil {
		bookmarks = []model.Bookmark{}
	}
	writeJSON(w, http.StatusOK, bookmarks)
}

func (h *Handler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "sign_in_required"})
		return
	}
	placeID, err := pathUUID(r, "placeID")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if err := h.store.AddBookmark(r.Context(), id.UserID, placeID); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "sign_in_required"})
		return
	}
	placeID, err := pathUUID(r, "placeID")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	removed, err := h.store.RemoveBookmark(r.Context(), id.UserID, placeID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ParseFilter reads bbox=minLat,minLng,maxLat,maxLng, category, moods (comma
// separated or repeated), limit and offset.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{Category: strings.TrimSpace(q.Get("category"))}

	for _, v := range q["moods"] {
		for _, mood := range strings.Split(v, ",") {
			if mood = strings.ToLower(strings.TrimSpace(mood)); mood != "" {
				f.Moods = append(f.Moods, mood)
			}
		}
	}

	if raw := q.Get("bbox"); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) != 4 {
			return Filter{}, errors.Wrap(model.ErrBadRequest, "bbox needs four comma separated numbers")
		}
		var v [4]float64
		for i, part := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return Filter{}, errors.Wrapf(model.ErrBadRequest, "bbox: %v", err)
			}
			v[i] = n
		}
		f.BBox = &BBox{MinLat: v[0], MinLng: v[1], MaxLat: v[2], MaxLng: v[3]}
	}

	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return Filter{}, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return Filter{}, err
	}
	return f, f.Validate()
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(model.ErrBadRequest, "%s must be an integer", key)
	}
	return n, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(model.ErrBadRequest, "%s is not a valid id", name)
	}
	return id, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
	default:
		h.logger.ErrorContext(ctx, "Error serving places request", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
