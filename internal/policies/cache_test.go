package policies

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

type memoryStore struct {
	mu        sync.Mutex
	policies  []Policy
	nextID    int64
	findCalls int
	failAll   bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 1}
}

func (m *memoryStore) activeMatch(p Policy, role, resource string, action Action, application string) bool {
	return p.IsActive && p.Role == role && p.Resource == resource && p.Action == action && p.Application == application
}

func (m *memoryStore) Create(ctx context.Context, p Policy) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return Policy{}, shared.ErrStoreUnavailable
	}
	if p.Application == "" {
		p.Application = DefaultApplication
	}
	for _, existing := range m.policies {
		if m.activeMatch(existing, p.Role, p.Resource, p.Action, p.Application) {
			return Policy{}, shared.ErrConflict
		}
	}
	p.ID = m.nextID
	m.nextID++
	p.IsActive = true
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.policies = append(m.policies, p)
	return p, nil
}

func (m *memoryStore) CreateMany(ctx context.Context, batch []Policy) ([]Policy, error) {
	created := make([]Policy, 0, len(batch))
	for _, p := range batch {
		c, err := m.Create(ctx, p)
		if err != nil {
			return nil, err
		}
		created = append(created, c)
	}
	return created, nil
}

func (m *memoryStore) FindByRole(ctx context.Context, role string) ([]Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, shared.ErrStoreUnavailable
	}
	m.findCalls++
	var out []Policy
	for _, p := range m.policies {
		if p.IsActive && p.Role == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (m *memoryStore) FindByRoleResourceAction(ctx context.Context, role string, variants []string, action Action, application string) ([]Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if application == "" {
		application = DefaultApplication
	}
	var out []Policy
	for _, p := range m.policies {
		if !p.IsActive || p.Role != role || p.Action != action || p.Application != application {
			continue
		}
		for _, v := range variants {
			if p.Resource == v {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, role, resource string, action Action, application string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if application == "" {
		application = DefaultApplication
	}
	for i, p := range m.policies {
		if m.activeMatch(p, role, resource, action, application) {
			m.policies[i].IsActive = false
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memoryStore) DeleteAllForRole(ctx context.Context, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for i, p := range m.policies {
		if p.IsActive && p.Role == role {
			m.policies[i].IsActive = false
			deleted++
		}
	}
	if deleted == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (m *memoryStore) ListRolesWithPolicies(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, shared.ErrStoreUnavailable
	}
	seen := map[string]struct{}{}
	var roles []string
	for _, p := range m.policies {
		if !p.IsActive {
			continue
		}
		if _, ok := seen[p.Role]; !ok {
			seen[p.Role] = struct{}{}
			roles = append(roles, p.Role)
		}
	}
	sort.Strings(roles)
	return roles, nil
}

func (m *memoryStore) Paginate(ctx context.Context, page, limit int, f Filters) ([]Policy, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Policy
	for _, p := range m.policies {
		if !p.IsActive {
			continue
		}
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.Action != "" && p.Action != f.Action {
			continue
		}
		if f.Application != "" && p.Application != f.Application {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func newTestCache(t *testing.T, store Store) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, store, time.Minute, slog.Default())
	return cache, mr, client
}

func TestGetPoliciesCachesOnMiss(t *testing.T) {
	store := newMemoryStore()
	_, err := store.Create(context.Background(), Policy{Role: "ADMIN", Resource: "/api/v1/usuarios/*", Action: ActionGet})
	require.NoError(t, err)

	cache, _, _ := newTestCache(t, store)
	ctx := context.Background()

	set, err := cache.GetPolicies(ctx, "ADMIN")
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, 1, store.findCalls)

	// Second read must come from the cache.
	set, err = cache.GetPolicies(ctx, "ADMIN")
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, 1, store.findCalls)
}

func TestGetPoliciesFallsBackWhenCacheDown(t *testing.T) {
	store := newMemoryStore()
	_, err := store.Create(context.Background(), Policy{Role: "ADMIN", Resource: "/dashboard", Action: ActionGet})
	require.NoError(t, err)

	cache, mr, _ := newTestCache(t, store)
	mr.Close()

	set, err := cache.GetPolicies(context.Background(), "ADMIN")
	require.NoError(t, err)
	require.Len(t, set, 1)
}

func TestIsPermittedExactAndWildcard(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "ADMIN", Resource: "/api/v1/usuarios/*", Action: ActionGet})
	require.NoError(t, err)
	_, err = store.Create(ctx, Policy{Role: "ADMIN", Resource: "/api/v1/reportes", Action: ActionPost})
	require.NoError(t, err)

	cache, _, _ := newTestCache(t, store)

	ok, err := cache.IsPermitted(ctx, "ADMIN", "/api/v1/usuarios/42", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/usuarios/42", "DELETE", "backend")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/reportes", "POST", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	// Exact policy must not cover deeper paths.
	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/reportes/2024", "POST", "backend")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsPermittedApplicationScoping(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "USER", Resource: "/dashboard", Action: ActionGet, Application: "frontend"})
	require.NoError(t, err)

	cache, _, _ := newTestCache(t, store)

	ok, err := cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "frontend")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsPermittedWithoutCacheProbesStore(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "ADMIN", Resource: "/api/v1/usuarios/*", Action: ActionGet})
	require.NoError(t, err)
	_, err = store.Create(ctx, Policy{Role: "ADMIN", Resource: "/api/v1/ventas", Action: ActionPost})
	require.NoError(t, err)

	cache := NewCache(nil, store, time.Minute, slog.Default())

	ok, err := cache.IsPermitted(ctx, "ADMIN", "/api/v1/usuarios/42", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	// Wildcard base itself is covered.
	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/usuarios", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/ventas", "POST", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.IsPermitted(ctx, "ADMIN", "/api/v1/ventas/99", "POST", "backend")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWarmAllPopulatesEveryRole(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "ADMIN", Resource: "/*", Action: ActionGet})
	require.NoError(t, err)
	_, err = store.Create(ctx, Policy{Role: "USER", Resource: "/perfil", Action: ActionGet})
	require.NoError(t, err)

	cache, mr, _ := newTestCache(t, store)
	require.NoError(t, cache.WarmAll(ctx))

	require.True(t, mr.Exists("authz:role:ADMIN"))
	require.True(t, mr.Exists("authz:role:USER"))
	require.True(t, mr.Exists("authz:lastload"))

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	require.True(t, stats.Enabled)
	require.Equal(t, 2, stats.RolesInCache)
	require.NotNil(t, stats.LastLoad)
}

func TestInvalidateRoleIsEagerAndIdempotent(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "USER", Resource: "/dashboard", Action: ActionGet})
	require.NoError(t, err)

	cache, mr, client := newTestCache(t, store)

	ok, err := cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.True(t, ok)

	// Mutate the store behind the cache's back, then invalidate.
	require.NoError(t, store.Delete(ctx, "USER", "/dashboard", ActionGet, DefaultApplication))
	require.NoError(t, cache.InvalidateRole(ctx, "USER"))

	ok, err = cache.IsPermitted(ctx, "USER", "/dashboard", "GET", "backend")
	require.NoError(t, err)
	require.False(t, ok)

	// Eager refill: the entry exists again right after invalidation.
	require.True(t, mr.Exists("authz:role:USER"))
	first, err := client.Get(ctx, "authz:role:USER").Result()
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateRole(ctx, "USER"))
	second, err := client.Get(ctx, "authz:role:USER").Result()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestInvalidateAllRewarmsSynchronously(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	_, err := store.Create(ctx, Policy{Role: "ADMIN", Resource: "/a", Action: ActionGet})
	require.NoError(t, err)

	cache, mr, _ := newTestCache(t, store)
	require.NoError(t, cache.WarmAll(ctx))

	_, err = store.Create(ctx, Policy{Role: "AUDITOR", Resource: "/b", Action: ActionGet})
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateAll(ctx))
	require.True(t, mr.Exists("authz:role:ADMIN"))
	require.True(t, mr.Exists("authz:role:AUDITOR"))
}

func TestWarmAllSurfacesStoreFailure(t *testing.T) {
	store := newMemoryStore()
	cache, _, _ := newTestCache(t, store)
	store.failAll = true

	err := cache.WarmAll(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, shared.ErrStoreUnavailable))
}
