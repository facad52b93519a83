package users

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort is the storage surface Service needs.
type RepositoryPort interface {
	Insert(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context) ([]User, error)
	RoleOf(ctx context.Context, id int64) (Role, error)
	SetRole(ctx context.Context, id int64, role Role) (User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	Deactivate(ctx context.Context, id int64) (User, error)
}

// AuditPort records directory changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes directory operations and the capability checks the
// workflow modules consult.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

const minPasswordLength = 8

// CreateInput carries a new directory entry.
type CreateInput struct {
	Username string
	FullName string
	Role     Role
	Password string
	ActorID  int64
}

// Create registers a user with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	username := NormalizeUsername(input.Username)
	if username == "" {
		return User{}, &ValidationError{Field: "username", Message: "required"}
	}
	if strings.TrimSpace(input.FullName) == "" {
		return User{}, &ValidationError{Field: "full_name", Message: "required"}
	}
	if !input.Role.Valid() {
		return User{}, &ValidationError{Field: "role", Message: "unknown role"}
	}
	if len(input.Password) < minPasswordLength {
		return User{}, &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u, err := s.repo.Insert(ctx, User{
		Username:     username,
		FullName:     strings.TrimSpace(input.FullName),
		Role:         input.Role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, input.ActorID, "user.created", u)
	return u, nil
}

// Get returns one user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// GetByUsername returns one user by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.repo.GetByUsername(ctx, NormalizeUsername(username))
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// ChangeRole moves a user to a different role.
func (s *Service) ChangeRole(ctx context.Context, id int64, role Role, actorID int64) (User, error) {
	if !role.Valid() {
		return User{}, &ValidationError{Field: "role", Message: "unknown role"}
	}
	u, err := s.repo.SetRole(ctx, id, role)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, "user.role_changed", u)
	return u, nil
}

// ChangePassword replaces the stored hash.
func (s *Service) ChangePassword(ctx context.Context, id int64, password string, actorID int64) error {
	if len(password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPasswordHash(ctx, id, string(hash)); err != nil {
		return err
	}
	u := User{ID: id, Username: "-"}
	s.recordAudit(ctx, actorID, "user.password_changed", u)
	return nil
}

// Deactivate retires a user, revoking every capability.
func (s *Service) Deactivate(ctx context.Context, id, actorID int64) (User, error) {
	u, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actorID, "user.deactivated", u)
	return u, nil
}

// VerifyPassword checks a plaintext password against the stored hash.
// It exists for operational tooling; this system performs no login flow.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) (User, error) {
	u, err := s.repo.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return User{}, err
	}
	if !u.Active {
		return User{}, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrForbidden
	}
	return u, nil
}

// roleAllows resolves the actor's role and applies the capability check.
// Unknown or retired users simply lack the capability.
func (s *Service) roleAllows(ctx context.Context, actorID int64, allowed func(Role) bool) (bool, error) {
	role, err := s.repo.RoleOf(ctx, actorID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return allowed(role), nil
}

// CanApproveIssues reports whether the actor may decide issuance approvals.
func (s *Service) CanApproveIssues(ctx context.Context, actorID int64) (bool, error) {
	return s.roleAllows(ctx, actorID, Role.CanApproveIssues)
}

// CanApproveOrders reports whether the actor may approve purchase orders.
func (s *Service) CanApproveOrders(ctx context.Context, actorID int64) (bool, error) {
	return s.roleAllows(ctx, actorID, Role.CanApproveOrders)
}

// CanRecordPayments reports whether the actor may mark accounts and payments.
func (s *Service) CanRecordPayments(ctx context.Context, actorID int64) (bool, error) {
	return s.roleAllows(ctx, actorID, Role.CanRecordPayments)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, u User) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: u.Username,
		Meta:     map[string]any{"user_id": u.ID, "role": string(u.Role)},
	})
}
