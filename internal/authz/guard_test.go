package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

type fakeResolver struct {
	roles map[int64][]string
	err   error
}

func (f *fakeResolver) ActiveRoleCodes(ctx context.Context, userID int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[userID], nil
}

func newGuard(checker *fakeChecker, resolver *fakeResolver) Guard {
	return Guard{
		Engine:   NewEngine(checker, slog.Default(), nil, nil),
		Resolver: resolver,
		Logger:   slog.Default(),
	}
}

func serveGuarded(t *testing.T, g Guard, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler := g.Protect("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuardPermitsAuthorizedPrincipal(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{
		permitKey("ADMIN", "/api/v1/usuarios/42", "GET", "backend"): true,
	}}
	resolver := &fakeResolver{roles: map[int64][]string{5: {"ADMIN"}}}
	g := newGuard(checker, resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usuarios/42", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{ID: 5}))

	rec := serveGuarded(t, g, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardDeniesWithoutPrincipal(t *testing.T) {
	g := newGuard(&fakeChecker{}, &fakeResolver{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usuarios/42", nil)
	rec := serveGuarded(t, g, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardDeniesWhenNoRoleInForce(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{}}
	resolver := &fakeResolver{roles: map[int64][]string{7: {}}}
	g := newGuard(checker, resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usuarios/perfil", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{ID: 7}))

	rec := serveGuarded(t, g, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardFailsClosedOnResolverError(t *testing.T) {
	g := newGuard(&fakeChecker{}, &fakeResolver{err: errors.New("store down")})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{ID: 9}))

	rec := serveGuarded(t, g, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
