package policies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-io/gatehouse/internal/platform/db"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// Repository provides PostgreSQL backed persistence for policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, role_code, resource, action, application, is_active, created_at, updated_at`

// Create inserts a new active policy. Returns shared.ErrConflict when an
// active duplicate (role, resource, action, application) exists.
func (r *Repository) Create(ctx context.Context, p Policy) (Policy, error) {
	if p.Application == "" {
		p.Application = DefaultApplication
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO policies (role_code, resource, action, application, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING `+policyColumns,
		p.Role, p.Resource, string(p.Action), p.Application)
	created, err := scanPolicy(row)
	if err != nil {
		return Policy{}, mapStoreError("policies: create", err)
	}
	return created, nil
}

// CreateMany inserts policies atomically; the whole batch is rolled back on
// the first duplicate or failure.
func (r *Repository) CreateMany(ctx context.Context, batch []Policy) ([]Policy, error) {
	created := make([]Policy, 0, len(batch))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, p := range batch {
			if p.Application == "" {
				p.Application = DefaultApplication
			}
			row := tx.QueryRow(ctx,
				`INSERT INTO policies (role_code, resource, action, application, is_active)
				 VALUES ($1, $2, $3, $4, TRUE)
				 RETURNING `+policyColumns,
				p.Role, p.Resource, string(p.Action), p.Application)
			inserted, err := scanPolicy(row)
			if err != nil {
				return mapStoreError("policies: create many", err)
			}
			created = append(created, inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FindByRole returns the active policy set for a role ordered by resource
// then action. This is the canonical per-role set the cache serializes.
func (r *Repository) FindByRole(ctx context.Context, role string) ([]Policy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies
		 WHERE role_code = $1 AND is_active AND deleted_at IS NULL
		 ORDER BY resource, action`, role)
	if err != nil {
		return nil, mapStoreError("policies: find by role", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// FindByRoleResourceAction probes multiple resource variants (typically the
// exact path plus its candidate wildcards) in a single query.
func (r *Repository) FindByRoleResourceAction(ctx context.Context, role string, variants []string, action Action, application string) ([]Policy, error) {
	if application == "" {
		application = DefaultApplication
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies
		 WHERE role_code = $1 AND resource = ANY($2) AND action = $3 AND application = $4
		   AND is_active AND deleted_at IS NULL
		 ORDER BY resource, action`,
		role, variants, string(action), application)
	if err != nil {
		return nil, mapStoreError("policies: find by variants", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// Delete soft-deletes the matching active policy. Returns shared.ErrNotFound
// when no active row matches.
func (r *Repository) Delete(ctx context.Context, role, resource string, action Action, application string) error {
	if application == "" {
		application = DefaultApplication
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE policies SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW()
		 WHERE role_code = $1 AND resource = $2 AND action = $3 AND application = $4
		   AND is_active AND deleted_at IS NULL`,
		role, resource, string(action), application)
	if err != nil {
		return mapStoreError("policies: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policies: delete %s %s %s: %w", role, string(action), resource, shared.ErrNotFound)
	}
	return nil
}

// DeleteAllForRole soft-deletes every active policy of the role.
func (r *Repository) DeleteAllForRole(ctx context.Context, role string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE policies SET is_active = FALSE, deleted_at = NOW(), updated_at = NOW()
		 WHERE role_code = $1 AND is_active AND deleted_at IS NULL`, role)
	if err != nil {
		return mapStoreError("policies: delete all for role", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policies: no active policies for role %s: %w", role, shared.ErrNotFound)
	}
	return nil
}

// ListRolesWithPolicies returns distinct role codes holding at least one
// active policy, ascending.
func (r *Repository) ListRolesWithPolicies(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT role_code FROM policies
		 WHERE is_active AND deleted_at IS NULL
		 ORDER BY role_code`)
	if err != nil {
		return nil, mapStoreError("policies: list roles", err)
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		roles = append(roles, code)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError("policies: list roles", err)
	}
	return roles, nil
}

// Paginate returns one page of active policies matching the filters plus the
// total matching count.
func (r *Repository) Paginate(ctx context.Context, page, limit int, f Filters) ([]Policy, int, error) {
	meta := shared.NewPagination(page, limit, 0)

	where := []string{"is_active", "deleted_at IS NULL"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Role != "" {
		where = append(where, "role_code = "+arg(f.Role))
	}
	if f.Resource != "" {
		where = append(where, "resource ILIKE "+arg("%"+f.Resource+"%"))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(string(f.Action)))
	}
	if f.Application != "" {
		where = append(where, "application = "+arg(f.Application))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policies WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapStoreError("policies: count", err)
	}

	query := `SELECT ` + policyColumns + ` FROM policies WHERE ` + cond +
		` ORDER BY role_code, resource, action LIMIT ` + arg(meta.PerPage) + ` OFFSET ` + arg(meta.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapStoreError("policies: paginate", err)
	}
	defer rows.Close()
	items, err := collectPolicies(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collectPolicies(rows pgx.Rows) ([]Policy, error) {
	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreError("policies: scan", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (Policy, error) {
	var p Policy
	var action string
	if err := row.Scan(&p.ID, &p.Role, &p.Resource, &action, &p.Application, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Policy{}, err
	}
	p.Action = Action(action)
	return p, nil
}

// mapStoreError translates driver failures into the shared taxonomy: unique
// violations become ErrConflict, connectivity and timeout failures become
// ErrStoreUnavailable.
func mapStoreError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, shared.ErrConflict)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w", op, shared.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
