package policies

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// AdminStore extends the read-through Store with the mutations the
// administrative surface needs.
type AdminStore interface {
	Store
	Create(ctx context.Context, p Policy) (Policy, error)
	CreateMany(ctx context.Context, batch []Policy) ([]Policy, error)
	Delete(ctx context.Context, role, resource string, action Action, application string) error
	DeleteAllForRole(ctx context.Context, role string) error
	Paginate(ctx context.Context, page, limit int, f Filters) ([]Policy, int, error)
}

// Service is the administrative surface over policies. Every mutation
// invalidates the affected cache entries before returning success; that is
// the coherence contract the decision engine depends on.
type Service struct {
	store  AdminStore
	cache  *Cache
	logger *slog.Logger
}

// NewService builds the admin policy service.
func NewService(store AdminStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Create validates and stores a policy, then refreshes the role's cache
// entry.
func (s *Service) Create(ctx context.Context, p Policy) (Policy, error) {
	if err := validatePolicy(p); err != nil {
		return Policy{}, err
	}
	created, err := s.store.Create(ctx, p)
	if err != nil {
		return Policy{}, err
	}
	s.invalidateRole(ctx, created.Role)
	return created, nil
}

// CreateMany stores a batch atomically and resyncs the whole cache.
func (s *Service) CreateMany(ctx context.Context, batch []Policy) ([]Policy, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("policies: empty batch: %w", shared.ErrValidation)
	}
	for _, p := range batch {
		if err := validatePolicy(p); err != nil {
			return nil, err
		}
	}
	created, err := s.store.CreateMany(ctx, batch)
	if err != nil {
		return nil, err
	}
	s.invalidateAll(ctx)
	return created, nil
}

// Delete removes one policy and refreshes the role's cache entry.
func (s *Service) Delete(ctx context.Context, role, resource string, action Action, application string) error {
	if err := s.store.Delete(ctx, role, resource, action, application); err != nil {
		return err
	}
	s.invalidateRole(ctx, role)
	return nil
}

// DeleteAllForRole removes every policy of a role and resyncs the cache.
func (s *Service) DeleteAllForRole(ctx context.Context, role string) error {
	if err := s.store.DeleteAllForRole(ctx, role); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// List returns one page of policies with the total count.
func (s *Service) List(ctx context.Context, page, limit int, f Filters) ([]Policy, int, error) {
	return s.store.Paginate(ctx, page, limit, f)
}

// CacheStats surfaces the cache population.
func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	return s.cache.Stats(ctx)
}

// SyncCache drops and re-warms the whole cache namespace.
func (s *Service) SyncCache(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// The store write already succeeded when invalidation runs; a failed
// invalidation leaves the store correct and the cache stale until TTL, so it
// is logged rather than surfaced to the administrator.
func (s *Service) invalidateRole(ctx context.Context, role string) {
	if err := s.cache.InvalidateRole(ctx, role); err != nil {
		s.logger.Warn("invalidate role after mutation", slog.String("role", role), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("invalidate cache after mutation", slog.Any("error", err))
	}
}

func validatePolicy(p Policy) error {
	if p.Role == "" || p.Resource == "" {
		return fmt.Errorf("policies: role and resource required: %w", shared.ErrValidation)
	}
	if !p.Action.Valid() {
		return fmt.Errorf("policies: unsupported action %q: %w", string(p.Action), shared.ErrValidation)
	}
	return nil
}
