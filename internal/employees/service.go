package employees

import (
	"context"
	"strings"

	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort is the storage surface Service needs.
type RepositoryPort interface {
	Insert(ctx context.Context, emp Employee) (Employee, error)
	Get(ctx context.Context, id int64) (Employee, error)
	GetByJobNumber(ctx context.Context, jobNumber string) (Employee, error)
	List(ctx context.Context, filter ListFilter) ([]Employee, error)
	Update(ctx context.Context, emp Employee) (Employee, error)
	Deactivate(ctx context.Context, id int64) (Employee, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// AuditPort records directory changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes directory operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateInput carries a new directory entry.
type CreateInput struct {
	Name       string
	Department string
	Email      string
	JobNumber  string
	ActorID    int64
}

// Create registers an employee.
func (s *Service) Create(ctx context.Context, input CreateInput) (Employee, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Employee{}, &ValidationError{Field: "name", Message: "required"}
	}
	if strings.TrimSpace(input.Department) == "" {
		return Employee{}, &ValidationError{Field: "department", Message: "required"}
	}
	jobNumber := NormalizeJobNumber(input.JobNumber)
	if jobNumber == "" {
		return Employee{}, &ValidationError{Field: "job_number", Message: "required"}
	}
	emp, err := s.repo.Insert(ctx, Employee{
		Name:       name,
		Department: strings.TrimSpace(input.Department),
		Email:      strings.TrimSpace(input.Email),
		JobNumber:  jobNumber,
	})
	if err != nil {
		return Employee{}, err
	}
	s.recordAudit(ctx, input.ActorID, "employee.created", emp)
	return emp, nil
}

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, id int64) (Employee, error) {
	return s.repo.Get(ctx, id)
}

// GetByJobNumber returns one entry by job number.
func (s *Service) GetByJobNumber(ctx context.Context, jobNumber string) (Employee, error) {
	return s.repo.GetByJobNumber(ctx, NormalizeJobNumber(jobNumber))
}

// List returns entries matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Employee, error) {
	return s.repo.List(ctx, filter)
}

// UpdateInput carries the mutable fields of an entry.
type UpdateInput struct {
	Name       string
	Department string
	Email      string
	ActorID    int64
}

// Update rewrites name, department and email.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Employee, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Employee{}, &ValidationError{Field: "name", Message: "required"}
	}
	if strings.TrimSpace(input.Department) == "" {
		return Employee{}, &ValidationError{Field: "department", Message: "required"}
	}
	emp, err := s.repo.Update(ctx, Employee{
		ID:         id,
		Name:       strings.TrimSpace(input.Name),
		Department: strings.TrimSpace(input.Department),
		Email:      strings.TrimSpace(input.Email),
	})
	if err != nil {
		return Employee{}, err
	}
	s.recordAudit(ctx, input.ActorID, "employee.updated", emp)
	return emp, nil
}

// Deactivate retires an entry. Already-retired entries report not found
// so the operation stays idempotent in effect but explicit in response.
func (s *Service) Deactivate(ctx context.Context, id, actorID int64) (Employee, error) {
	emp, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return Employee{}, err
	}
	s.recordAudit(ctx, actorID, "employee.deactivated", emp)
	return emp, nil
}

// EmployeeExists reports whether an active entry exists. Issuance
// creation consults this before attributing a record.
func (s *Service) EmployeeExists(ctx context.Context, id int64) (bool, error) {
	return s.repo.Exists(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, emp Employee) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "employee",
		EntityID: emp.JobNumber,
		Meta:     map[string]any{"employee_id": emp.ID, "department": emp.Department},
	})
}
