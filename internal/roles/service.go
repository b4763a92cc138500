package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	Create(ctx context.Context, code, name string, isSystem bool) (Role, error)
	GetByID(ctx context.Context, id int64) (Role, error)
	GetByCode(ctx context.Context, code string) (Role, error)
	Update(ctx context.Context, id int64, name string, state State) (Role, error)
	SoftDelete(ctx context.Context, id int64) error
	List(ctx context.Context, page, limit int, state State) ([]Role, int, error)
}

// AssignmentCounter reports how many active assignments reference a role.
// Implemented by the assignments repository.
type AssignmentCounter interface {
	CountActiveByRole(ctx context.Context, roleID int64) (int, error)
}

// CacheInvalidator refreshes policy cache entries after role mutations.
// Implemented by the policy cache.
type CacheInvalidator interface {
	InvalidateRole(ctx context.Context, role string) error
	InvalidateAll(ctx context.Context) error
}

// Service handles role business logic and enforces the invariants around
// system roles and referenced roles.
type Service struct {
	repo        RepositoryPort
	assignments AssignmentCounter
	cache       CacheInvalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, assignments AssignmentCounter, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, assignments: assignments, cache: cache, logger: logger}
}

// Create registers a new role. The code is normalised to upper case and is
// immutable afterwards.
func (s *Service) Create(ctx context.Context, code, name string, isSystem bool) (Role, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Role{}, fmt.Errorf("roles: code and name required: %w", shared.ErrValidation)
	}
	role, err := s.repo.Create(ctx, code, name, isSystem)
	if err != nil {
		return Role{}, err
	}
	s.invalidateRole(ctx, role.Code)
	return role, nil
}

// Update renames a role or changes its state. Deactivation is blocked while
// active assignments still reference the role.
func (s *Service) Update(ctx context.Context, id int64, name string, state State) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("roles: name required: %w", shared.ErrValidation)
	}
	if state != StateActive && state != StateInactive {
		return Role{}, fmt.Errorf("roles: invalid state %q: %w", string(state), shared.ErrValidation)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if state == StateInactive && current.State == StateActive {
		active, err := s.assignments.CountActiveByRole(ctx, id)
		if err != nil {
			return Role{}, err
		}
		if active > 0 {
			return Role{}, fmt.Errorf("roles: %d active assignments reference role %s: %w", active, current.Code, shared.ErrConflict)
		}
	}
	updated, err := s.repo.Update(ctx, id, name, state)
	if err != nil {
		return Role{}, err
	}
	s.invalidateRole(ctx, updated.Code)
	return updated, nil
}

// Delete soft-deletes a role. System roles and roles with active
// assignments cannot be deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	role, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("roles: %s is a system role: %w", role.Code, shared.ErrConflict)
	}
	active, err := s.assignments.CountActiveByRole(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("roles: %d active assignments reference role %s: %w", active, role.Code, shared.ErrConflict)
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	return nil
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns one page of roles with the total count. An empty state
// matches every lifecycle state.
func (s *Service) List(ctx context.Context, page, limit int, state State) ([]Role, int, error) {
	if state != "" && state != StateActive && state != StateInactive {
		return nil, 0, fmt.Errorf("roles: invalid state filter %q: %w", string(state), shared.ErrValidation)
	}
	return s.repo.List(ctx, page, limit, state)
}

// EnsureAvailable verifies the role exists and is active; assignments use
// this before binding a user to the role.
func (s *Service) EnsureAvailable(ctx context.Context, id int64) error {
	role, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if role.State != StateActive {
		return fmt.Errorf("roles: %s is not available: %w", role.Code, shared.ErrNotFound)
	}
	return nil
}

func (s *Service) invalidateRole(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRole(ctx, code); err != nil {
		s.logger.Warn("invalidate role cache", slog.String("role", code), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("invalidate policy cache", slog.Any("error", err))
	}
}
