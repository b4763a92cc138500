package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, code, name, is_system_role, state, created_at, updated_at`

// Create inserts a new active role. Duplicate codes map to shared.ErrConflict.
func (r *Repository) Create(ctx context.Context, code, name string, isSystem bool) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (code, name, is_system_role, state)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+roleColumns,
		code, name, isSystem, string(StateActive))
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapError("roles: create", err)
	}
	return role, nil
}

// GetByID fetches a role that has not been soft-deleted.
func (r *Repository) GetByID(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND deleted_at IS NULL`, id)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapError("roles: get", err)
	}
	return role, nil
}

// GetByCode fetches a role by its unique code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE code = $1 AND deleted_at IS NULL`, code)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapError("roles: get by code", err)
	}
	return role, nil
}

// Update changes name and state. The code is immutable and never touched.
func (r *Repository) Update(ctx context.Context, id int64, name string, state State) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, state = $3, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+roleColumns,
		id, name, string(state))
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapError("roles: update", err)
	}
	return role, nil
}

// SoftDelete retires the role while retaining the row for audit.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET state = $2, deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, string(StateInactive))
	if err != nil {
		return mapError("roles: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("roles: delete %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// List returns one page of non-deleted roles ordered by code, optionally
// filtered by state, plus the total matching count.
func (r *Repository) List(ctx context.Context, page, limit int, state State) ([]Role, int, error) {
	meta := shared.NewPagination(page, limit, 0)

	cond := `deleted_at IS NULL`
	args := []any{}
	if state != "" {
		args = append(args, string(state))
		cond += ` AND state = $1`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapError("roles: count", err)
	}

	args = append(args, meta.PerPage, meta.Offset())
	query := fmt.Sprintf(`SELECT `+roleColumns+` FROM roles WHERE `+cond+` ORDER BY code LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError("roles: list", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, 0, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("roles: list", err)
	}
	return roles, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	var state string
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.IsSystemRole, &state, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	role.State = State(state)
	return role, nil
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
