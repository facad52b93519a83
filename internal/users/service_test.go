package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sims-erp/sims-erp/internal/shared"
)

type memoryRepo struct {
	users  map[int64]*User
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[int64]*User)}
}

func (r *memoryRepo) Insert(ctx context.Context, u User) (User, error) {
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return User{}, &DuplicateUsernameError{Username: u.Username}
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.Active = true
	u.CreatedAt = time.Now().UTC()
	stored := u
	r.users[u.ID] = &stored
	return u, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *u, nil
}

func (r *memoryRepo) GetByUsername(ctx context.Context, username string) (User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepo) List(ctx context.Context) ([]User, error) {
	users := []User{}
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users, nil
}

func (r *memoryRepo) RoleOf(ctx context.Context, id int64) (Role, error) {
	u, ok := r.users[id]
	if !ok || !u.Active {
		return "", ErrUserNotFound
	}
	return u.Role, nil
}

func (r *memoryRepo) SetRole(ctx context.Context, id int64, role Role) (User, error) {
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.Role = role
	return *u, nil
}

func (r *memoryRepo) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, id int64) (User, error) {
	u, ok := r.users[id]
	if !ok || !u.Active {
		return User{}, ErrUserNotFound
	}
	u.Active = false
	return *u, nil
}

func seedUser(t *testing.T, svc *Service, username string, role Role) User {
	t.Helper()
	u, err := svc.Create(context.Background(), CreateInput{
		Username: username,
		FullName: "Test User",
		Role:     role,
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	return u
}

func TestCreateHashesPassword(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	u, err := svc.Create(context.Background(), CreateInput{
		Username: "  Salim ",
		FullName: "Salim Mtei",
		Role:     RoleStoreManager,
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.Equal(t, "salim", u.Username)
	require.NotEqual(t, "correct horse battery", u.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse battery")))
}

func TestCreateRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.Create(context.Background(), CreateInput{
		Username: "salim",
		FullName: "Salim Mtei",
		Role:     RoleStoreManager,
		Password: "short",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "password", verr.Field)
}

func TestRoleCapabilities(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	md := seedUser(t, svc, "director", RoleManagingDirector)
	accounts := seedUser(t, svc, "accounts", RoleAccountsManager)
	store := seedUser(t, svc, "store", RoleStoreManager)

	cases := []struct {
		name     string
		userID   int64
		issues   bool
		orders   bool
		payments bool
	}{
		{"managing director", md.ID, true, true, false},
		{"accounts manager", accounts.ID, false, false, true},
		{"store manager", store.ID, false, false, false},
		{"unknown actor", 999, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.CanApproveIssues(ctx, tc.userID)
			require.NoError(t, err)
			require.Equal(t, tc.issues, got)
			got, err = svc.CanApproveOrders(ctx, tc.userID)
			require.NoError(t, err)
			require.Equal(t, tc.orders, got)
			got, err = svc.CanRecordPayments(ctx, tc.userID)
			require.NoError(t, err)
			require.Equal(t, tc.payments, got)
		})
	}
}

func TestDeactivateRevokesCapabilities(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	md := seedUser(t, svc, "director", RoleManagingDirector)

	ok, err := svc.CanApproveIssues(ctx, md.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Deactivate(ctx, md.ID, 1)
	require.NoError(t, err)

	ok, err = svc.CanApproveIssues(ctx, md.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyPassword(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	seedUser(t, svc, "salim", RoleStoreManager)

	u, err := svc.VerifyPassword(ctx, "SALIM", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, "salim", u.Username)

	_, err = svc.VerifyPassword(ctx, "salim", "wrong password")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDuplicateUsername(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	seedUser(t, svc, "salim", RoleStoreManager)

	_, err := svc.Create(context.Background(), CreateInput{
		Username: "Salim",
		FullName: "Other Salim",
		Role:     RoleStoreManager,
		Password: "correct horse battery",
	})
	var dup *DuplicateUsernameError
	require.ErrorAs(t, err, &dup)
}
