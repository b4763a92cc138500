package policies

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

func newTestService(t *testing.T) (*Service, *Cache, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	cache, _, _ := newTestCache(t, store)
	svc := NewService(store, cache, slog.Default())
	return svc, cache, store
}

func TestCreateMakesPolicyVisibleImmediately(t *testing.T) {
	svc, cache, _ := newTestService(t)
	ctx := context.Background()

	// Prime the cache with the (empty) role entry first.
	ok, err := cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.Create(ctx, Policy{Role: "USER", Resource: "/dashboard", Action: ActionGet})
	require.NoError(t, err)

	// No TTL wait: the mutation invalidated and refilled the entry.
	ok, err = cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteMakesPolicyInvisibleImmediately(t *testing.T) {
	svc, cache, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Policy{Role: "USER", Resource: "/dashboard", Action: ActionGet})
	require.NoError(t, err)
	ok, err := cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Delete(ctx, "USER", "/dashboard", ActionGet, ""))

	ok, err = cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p := Policy{Role: "ADMIN", Resource: "/api/v1/usuarios/*", Action: ActionGet}
	_, err := svc.Create(ctx, p)
	require.NoError(t, err)

	_, err = svc.Create(ctx, p)
	require.True(t, errors.Is(err, shared.ErrConflict))
}

func TestCreateRejectsInvalidAction(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), Policy{Role: "ADMIN", Resource: "/x", Action: "FETCH"})
	require.True(t, errors.Is(err, shared.ErrValidation))
}

func TestDeleteMissingPolicyNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), "ADMIN", "/nope", ActionGet, "")
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestDeleteAllForRoleResyncsCache(t *testing.T) {
	svc, cache, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Policy{Role: "USER", Resource: "/a", Action: ActionGet})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Policy{Role: "USER", Resource: "/b", Action: ActionGet})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAllForRole(ctx, "USER"))

	ok, err := cache.IsPermitted(ctx, "USER", "/a", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = cache.IsPermitted(ctx, "USER", "/b", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateManyBulkAtomicityAndVisibility(t *testing.T) {
	svc, cache, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateMany(ctx, []Policy{
		{Role: "AUDITOR", Resource: "/api/v1/auditoria/*", Action: ActionGet},
		{Role: "AUDITOR", Resource: "/api/v1/reportes", Action: ActionGet},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	ok, err := cache.IsPermitted(ctx, "AUDITOR", "/api/v1/auditoria/2024", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)
}
