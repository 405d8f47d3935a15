package access

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"spotto-service/internal/auth"
)

type stubChecker struct {
	access map[string]bool
	err    error
	calls  int
}

func (s *stubChecker) HasAccess(_ context.Context, userID string) (bool, error) {
	s.calls++
	return s.access[userID], s.err
}

func newGate(checker AccessChecker) *Gate {
	return NewGate(checker, []string{"/app"}, "/login", "/pricing", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(g *Gate, path string, id *auth.Identity) (*httptest.ResponseRecorder, bool) {
	reached := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, reached
}

func TestGate_UnprotectedPathsPassThrough(t *testing.T) {
	checker := &stubChecker{}
	g := newGate(checker)

	for _, path := range []string{"/", "/pricing", "/api/places", "/apple"} {
		rec, reached := serve(g, path, nil)
		assert.True(t, reached, path)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, checker.calls)
}

func TestGate_AnonymousGoesToLogin(t *testing.T) {
	g := newGate(&stubChecker{})

	rec, reached := serve(g, "/app/places?category=cafe", nil)
	assert.False(t, reached)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fapp%2Fplaces%3Fcategory%3Dcafe", rec.Header().Get("Location"))
}

func TestGate_NoMembershipGoesToPricing(t *testing.T) {
	checker := &stubChecker{access: map[string]bool{}}
	g := newGate(checker)

	rec, reached := serve(g, "/app", &auth.Identity{UserID: "u1"})
	assert.False(t, reached)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/pricing", rec.Header().Get("Location"))
	assert.Equal(t, 1, checker.calls)
}

func TestGate_EntitledUserPassesThrough(t *testing.T) {
	g := newGate(&stubChecker{access: map[string]bool{"u1": true}})

	rec, reached := serve(g, "/app/bookmarks", &auth.Identity{UserID: "u1"})
	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_LookupErrorFailsClosed(t *testing.T) {
	g := newGate(&stubChecker{access: map[string]bool{"u1": true}, err: errors.New("db down")})

	rec, reached := serve(g, "/app", &auth.Identity{UserID: "u1"})
	assert.False(t, reached)
	assert.Equal(t, "/pricing", rec.Header().Get("Location"))
}

func TestGate_Protected(t *testing.T) {
	g := NewGate(nil, []string{"/app/", "/premium"}, "/login", "/pricing", nil)

	assert.True(t, g.Protected("/app"))
	assert.True(t, g.Protected("/app/places/1"))
	assert.True(t, g.Protected("/premium"))
	assert.False(t, g.Protected("/apples"))
	assert.False(t, g.Protected("/"))
}
