package roles

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	nextID int64
	roles  map[int64]Role
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, roles: map[int64]Role{}}
}

func (m *memoryRepo) Create(ctx context.Context, code, name string, isSystem bool) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Code == code {
			return Role{}, fmt.Errorf("roles: create: %w", shared.ErrConflict)
		}
	}
	role := Role{
		ID:           m.nextID,
		Code:         code,
		Name:         name,
		IsSystemRole: isSystem,
		State:        StateActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.nextID++
	m.roles[role.ID] = role
	return role, nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("roles: get: %w", shared.ErrNotFound)
	}
	return role, nil
}

func (m *memoryRepo) GetByCode(ctx context.Context, code string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("roles: get by code: %w", shared.ErrNotFound)
}

func (m *memoryRepo) Update(ctx context.Context, id int64, name string, state State) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("roles: update: %w", shared.ErrNotFound)
	}
	role.Name = name
	role.State = state
	role.UpdatedAt = time.Now()
	m.roles[id] = role
	return role, nil
}

func (m *memoryRepo) SoftDelete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return fmt.Errorf("roles: delete: %w", shared.ErrNotFound)
	}
	delete(m.roles, id)
	return nil
}

func (m *memoryRepo) List(ctx context.Context, page, limit int, state State) ([]Role, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		if state != "" && r.State != state {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

type fakeCounter struct {
	counts map[int64]int
}

func (f *fakeCounter) CountActiveByRole(ctx context.Context, roleID int64) (int, error) {
	return f.counts[roleID], nil
}

type fakeInvalidator struct {
	roleCalls []string
	allCalls  int
}

func (f *fakeInvalidator) InvalidateRole(ctx context.Context, role string) error {
	f.roleCalls = append(f.roleCalls, role)
	return nil
}

func (f *fakeInvalidator) InvalidateAll(ctx context.Context) error {
	f.allCalls++
	return nil
}

func newTestService(counter *fakeCounter) (*Service, *memoryRepo, *fakeInvalidator) {
	repo := newMemoryRepo()
	if counter == nil {
		counter = &fakeCounter{counts: map[int64]int{}}
	}
	inv := &fakeInvalidator{}
	return NewService(repo, counter, inv, nil), repo, inv
}

func TestCreateUppercasesCodeAndInvalidates(t *testing.T) {
	svc, _, inv := newTestService(nil)
	ctx := context.Background()

	role, err := svc.Create(ctx, " admin ", "Administrator", false)
	require.NoError(t, err)
	require.Equal(t, "ADMIN", role.Code)
	require.Equal(t, StateActive, role.State)
	require.Equal(t, []string{"ADMIN"}, inv.roleCalls)
}

func TestCreateDuplicateCodeConflicts(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "ADMIN", "Administrator", false)
	require.NoError(t, err)

	_, err = svc.Create(ctx, "admin", "Other", false)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateBlocksDeactivationWithActiveAssignments(t *testing.T) {
	counter := &fakeCounter{counts: map[int64]int{}}
	svc, _, _ := newTestService(counter)
	ctx := context.Background()

	role, err := svc.Create(ctx, "VENDEDOR", "Sales", false)
	require.NoError(t, err)
	counter.counts[role.ID] = 3

	_, err = svc.Update(ctx, role.ID, "Sales", StateInactive)
	require.ErrorIs(t, err, shared.ErrConflict)

	// Renaming while keeping the role active is still allowed.
	updated, err := svc.Update(ctx, role.ID, "Sales Team", StateActive)
	require.NoError(t, err)
	require.Equal(t, "Sales Team", updated.Name)
}

func TestDeleteBlocksSystemRole(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	role, err := svc.Create(ctx, "SUPERADMIN", "Root", true)
	require.NoError(t, err)

	err = svc.Delete(ctx, role.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteBlocksReferencedRole(t *testing.T) {
	counter := &fakeCounter{counts: map[int64]int{}}
	svc, _, _ := newTestService(counter)
	ctx := context.Background()

	role, err := svc.Create(ctx, "CAJERO", "Cashier", false)
	require.NoError(t, err)
	counter.counts[role.ID] = 1

	err = svc.Delete(ctx, role.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteUnreferencedRoleInvalidatesAll(t *testing.T) {
	svc, _, inv := newTestService(nil)
	ctx := context.Background()

	role, err := svc.Create(ctx, "TEMP", "Temporary", false)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, role.ID))
	require.Equal(t, 1, inv.allCalls)

	_, err = svc.Get(ctx, role.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersByState(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	ctx := context.Background()

	active, err := svc.Create(ctx, "ADMIN", "Administrator", false)
	require.NoError(t, err)
	dormant, err := svc.Create(ctx, "LEGACY", "Legacy", false)
	require.NoError(t, err)
	_, err = repo.Update(ctx, dormant.ID, dormant.Name, StateInactive)
	require.NoError(t, err)

	items, total, err := svc.List(ctx, 1, 20, StateActive)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, active.Code, items[0].Code)

	_, _, err = svc.List(ctx, 1, 20, State("RETIRED"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEnsureAvailableRejectsInactiveRole(t *testing.T) {
	svc, repo, _ := newTestService(nil)
	ctx := context.Background()

	role, err := svc.Create(ctx, "AUDITOR", "Auditor", false)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureAvailable(ctx, role.ID))

	_, err = repo.Update(ctx, role.ID, role.Name, StateInactive)
	require.NoError(t, err)

	err = svc.EnsureAvailable(ctx, role.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
