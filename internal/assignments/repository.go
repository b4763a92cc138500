package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-io/gatehouse/internal/platform/db"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assignmentColumns = `a.id, a.user_id, a.role_id, a.state, a.assigned_by, a.expires_at, a.revoked_by, a.revoked_at, a.created_at, a.updated_at`

// inForce is the lazy-expiry predicate: an assignment grants its role only
// while it is active and not yet past expires_at.
const inForce = `a.state = 'ACTIVE' AND (a.expires_at IS NULL OR a.expires_at > NOW())`

// GetPair fetches the assignment row for a (user, role) pair in any state.
func (r *Repository) GetPair(ctx context.Context, userID, roleID int64) (Assignment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments a
		 WHERE a.user_id = $1 AND a.role_id = $2`, userID, roleID)
	a, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, mapError("assignments: get pair", err)
	}
	return a, nil
}

// Insert creates a fresh assignment row for a pair that never existed.
func (r *Repository) Insert(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) (Assignment, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO role_assignments (user_id, role_id, state, assigned_by, expires_at)
		 VALUES ($1, $2, 'ACTIVE', $3, $4)
		 RETURNING `+assignmentColumns,
		userID, roleID, assignedBy, expiresAt)
	a, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, mapError("assignments: insert", err)
	}
	return a, nil
}

// Reactivate revives an inactive or expired row with a new grantor and
// expiry window, clearing the revocation metadata of the previous cycle.
func (r *Repository) Reactivate(ctx context.Context, id, assignedBy int64, expiresAt *time.Time) (Assignment, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE role_assignments a
		 SET state = 'ACTIVE', assigned_by = $2, expires_at = $3,
		     revoked_by = NULL, revoked_at = NULL, updated_at = NOW()
		 WHERE a.id = $1
		 RETURNING `+assignmentColumns,
		id, assignedBy, expiresAt)
	a, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, mapError("assignments: reactivate", err)
	}
	return a, nil
}

// Deactivate revokes the active assignment for a pair, recording who did
// it. Returns shared.ErrNotFound when no active row matches.
func (r *Repository) Deactivate(ctx context.Context, userID, roleID, revokedBy int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE role_assignments
		 SET state = 'INACTIVE', revoked_by = $3, revoked_at = NOW(), updated_at = NOW()
		 WHERE user_id = $1 AND role_id = $2 AND state = 'ACTIVE'`,
		userID, roleID, revokedBy)
	if err != nil {
		return mapError("assignments: deactivate", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignments: no active assignment for user %d role %d: %w", userID, roleID, shared.ErrNotFound)
	}
	return nil
}

// ActiveRoleCodes returns the role codes currently granted to the user.
// Expired and revoked assignments are filtered out by the query, as are
// roles that were deactivated or deleted after being assigned.
func (r *Repository) ActiveRoleCodes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.code FROM role_assignments a
		 JOIN roles r ON r.id = a.role_id
		 WHERE a.user_id = $1 AND `+inForce+`
		   AND r.state = 'ACTIVE' AND r.deleted_at IS NULL
		 ORDER BY r.code`, userID)
	if err != nil {
		return nil, mapError("assignments: active role codes", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("assignments: active role codes", err)
	}
	return codes, nil
}

// ListActiveByUser returns the in-force assignments of a user with role
// codes resolved.
func (r *Repository) ListActiveByUser(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+`, r.code FROM role_assignments a
		 JOIN roles r ON r.id = a.role_id
		 WHERE a.user_id = $1 AND `+inForce+`
		 ORDER BY r.code`, userID)
	if err != nil {
		return nil, mapError("assignments: list by user", err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		var state string
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &state, &a.AssignedBy, &a.ExpiresAt, &a.RevokedBy, &a.RevokedAt, &a.CreatedAt, &a.UpdatedAt, &a.RoleCode); err != nil {
			return nil, err
		}
		a.State = State(state)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("assignments: list by user", err)
	}
	return out, nil
}

// CountActiveByRole counts in-force assignments referencing the role. The
// roles service consults this before deactivating or deleting a role.
func (r *Repository) CountActiveByRole(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM role_assignments a
		 WHERE a.role_id = $1 AND `+inForce, roleID).Scan(&n)
	if err != nil {
		return 0, mapError("assignments: count by role", err)
	}
	return n, nil
}

// Stats aggregates the assignment table in one query.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE `+inForce+`),
		        COUNT(*) FILTER (WHERE a.state = 'INACTIVE'),
		        COUNT(*) FILTER (WHERE a.state = 'ACTIVE' AND a.expires_at IS NOT NULL AND a.expires_at <= NOW()),
		        COUNT(DISTINCT a.user_id) FILTER (WHERE `+inForce+`)
		 FROM role_assignments a`).Scan(&s.Total, &s.Active, &s.Inactive, &s.Expired, &s.DistinctUsersWithRoles)
	if err != nil {
		return Stats{}, mapError("assignments: stats", err)
	}
	if s.DistinctUsersWithRoles > 0 {
		s.AvgRolesPerActiveUser = float64(s.Active) / float64(s.DistinctUsersWithRoles)
	}
	return s, nil
}

// SweepExpired deactivates assignments whose expiry has passed. Correctness
// never depends on this running; it only keeps the table tidy.
func (r *Repository) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE role_assignments SET state = 'INACTIVE', updated_at = NOW()
		 WHERE state = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, mapError("assignments: sweep expired", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceAll swaps the user's role set atomically: every active assignment
// is deactivated, then each requested role is granted, all in a single
// transaction so concurrent readers never observe a half-replaced set.
func (r *Repository) ReplaceAll(ctx context.Context, userID int64, roleIDs []int64, actor int64, expiresAt *time.Time) ([]Assignment, error) {
	var out []Assignment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE role_assignments
			 SET state = 'INACTIVE', revoked_by = $2, revoked_at = NOW(), updated_at = NOW()
			 WHERE user_id = $1 AND state = 'ACTIVE'`, userID, actor); err != nil {
			return mapError("assignments: replace deactivate", err)
		}
		for _, roleID := range roleIDs {
			row := tx.QueryRow(ctx,
				`INSERT INTO role_assignments (user_id, role_id, state, assigned_by, expires_at)
				 VALUES ($1, $2, 'ACTIVE', $3, $4)
				 ON CONFLICT (user_id, role_id) DO UPDATE
				 SET state = 'ACTIVE', assigned_by = EXCLUDED.assigned_by, expires_at = EXCLUDED.expires_at,
				     revoked_by = NULL, revoked_at = NULL, updated_at = NOW()
				 RETURNING `+assignmentColumns,
				userID, roleID, actor, expiresAt)
			a, err := scanAssignment(row)
			if err != nil {
				return mapError("assignments: replace grant", err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (Assignment, error) {
	var a Assignment
	var state string
	if err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &state, &a.AssignedBy, &a.ExpiresAt, &a.RevokedBy, &a.RevokedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Assignment{}, err
	}
	a.State = State(state)
	return a, nil
}

func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, shared.ErrConflict)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w", op, shared.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
