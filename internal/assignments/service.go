package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// RepositoryPort defines data access methods for assignments.
type RepositoryPort interface {
	GetPair(ctx context.Context, userID, roleID int64) (Assignment, error)
	Insert(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) (Assignment, error)
	Reactivate(ctx context.Context, id, assignedBy int64, expiresAt *time.Time) (Assignment, error)
	Deactivate(ctx context.Context, userID, roleID, revokedBy int64) error
	ActiveRoleCodes(ctx context.Context, userID int64) ([]string, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]Assignment, error)
	Stats(ctx context.Context) (Stats, error)
	SweepExpired(ctx context.Context) (int64, error)
	ReplaceAll(ctx context.Context, userID int64, roleIDs []int64, actor int64, expiresAt *time.Time) ([]Assignment, error)
}

// RoleCatalog verifies a role can still be granted. Implemented by the
// roles service.
type RoleCatalog interface {
	EnsureAvailable(ctx context.Context, roleID int64) error
}

// Service handles assignment business logic.
type Service struct {
	repo   RepositoryPort
	roles  RoleCatalog
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleCatalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, logger: logger, now: time.Now}
}

// Assign grants a role to a user on behalf of assignedBy, optionally until
// expiresAt. Granting an already in-force pair is a conflict; granting a
// revoked or expired pair reactivates the existing row with the new grantor
// and expiry, clearing the previous revocation metadata.
func (s *Service) Assign(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) (Assignment, error) {
	if err := s.validateExpiry(expiresAt); err != nil {
		return Assignment{}, err
	}
	if err := s.roles.EnsureAvailable(ctx, roleID); err != nil {
		return Assignment{}, err
	}

	existing, err := s.repo.GetPair(ctx, userID, roleID)
	switch {
	case err == nil:
		if existing.InForce(s.now()) {
			return Assignment{}, fmt.Errorf("assignments: user %d already holds role %d: %w", userID, roleID, shared.ErrConflict)
		}
		return s.repo.Reactivate(ctx, existing.ID, assignedBy, expiresAt)
	case errors.Is(err, shared.ErrNotFound):
		return s.repo.Insert(ctx, userID, roleID, assignedBy, expiresAt)
	default:
		return Assignment{}, err
	}
}

// Revoke deactivates the user's active assignment of the role, recording
// revokedBy. A pair that never existed is not found; a pair that is already
// inactive is a conflict. The row is kept so a later re-grant reactivates it.
func (s *Service) Revoke(ctx context.Context, userID, roleID, revokedBy int64) error {
	existing, err := s.repo.GetPair(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if existing.State != StateActive {
		return fmt.Errorf("assignments: user %d role %d already revoked: %w", userID, roleID, shared.ErrConflict)
	}
	return s.repo.Deactivate(ctx, userID, roleID, revokedBy)
}

// AssignBulk grants several roles best-effort: each failure is recorded
// against its role id and the remaining grants proceed. The batch as a
// whole fails only when nothing at all was granted.
func (s *Service) AssignBulk(ctx context.Context, userID int64, roleIDs []int64, assignedBy int64, expiresAt *time.Time) (BulkResult, error) {
	if len(roleIDs) == 0 {
		return BulkResult{}, fmt.Errorf("assignments: empty role list: %w", shared.ErrValidation)
	}
	result := BulkResult{}
	var firstErr error
	for _, roleID := range roleIDs {
		if _, err := s.Assign(ctx, userID, roleID, assignedBy, expiresAt); err != nil {
			if result.Failed == nil {
				result.Failed = map[int64]string{}
			}
			result.Failed[roleID] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Granted = append(result.Granted, roleID)
	}
	if len(result.Granted) == 0 && firstErr != nil {
		return result, fmt.Errorf("assignments: no roles granted to user %d: %w", userID, firstErr)
	}
	return result, nil
}

// ReplaceAll swaps the user's entire role set in one transaction. Every
// requested role is validated up front so a single bad role rejects the
// whole replacement instead of leaving the user half-provisioned.
func (s *Service) ReplaceAll(ctx context.Context, userID int64, roleIDs []int64, actor int64, expiresAt *time.Time) ([]Assignment, error) {
	if err := s.validateExpiry(expiresAt); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, dup := seen[roleID]; dup {
			return nil, fmt.Errorf("assignments: duplicate role %d in replacement: %w", roleID, shared.ErrValidation)
		}
		seen[roleID] = struct{}{}
		if err := s.roles.EnsureAvailable(ctx, roleID); err != nil {
			return nil, err
		}
	}
	return s.repo.ReplaceAll(ctx, userID, roleIDs, actor, expiresAt)
}

// ActiveRoleCodes returns the role codes currently in force for the user.
// This is the resolver the request guard and the decision endpoint use.
func (s *Service) ActiveRoleCodes(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.ActiveRoleCodes(ctx, userID)
}

// ListActiveByUser returns the user's in-force assignments.
func (s *Service) ListActiveByUser(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.repo.ListActiveByUser(ctx, userID)
}

// Stats summarises the assignment table.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// SweepExpired deactivates rows past their expiry and reports how many.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.logger.Info("expired assignments deactivated", slog.Int64("count", swept))
	}
	return swept, nil
}

func (s *Service) validateExpiry(expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return fmt.Errorf("assignments: expires_at must be in the future: %w", shared.ErrValidation)
	}
	return nil
}
