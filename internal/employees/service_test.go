package employees

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	employees map[int64]*Employee
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{employees: make(map[int64]*Employee)}
}

func (r *memoryRepo) Insert(ctx context.Context, emp Employee) (Employee, error) {
	for _, existing := range r.employees {
		if existing.JobNumber == emp.JobNumber {
			return Employee{}, &DuplicateJobNumberError{JobNumber: emp.JobNumber}
		}
	}
	r.nextID++
	emp.ID = r.nextID
	emp.Active = true
	emp.CreatedAt = time.Now().UTC()
	stored := emp
	r.employees[emp.ID] = &stored
	return emp, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Employee, error) {
	emp, ok := r.employees[id]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	return *emp, nil
}

func (r *memoryRepo) GetByJobNumber(ctx context.Context, jobNumber string) (Employee, error) {
	for _, emp := range r.employees {
		if emp.JobNumber == jobNumber {
			return *emp, nil
		}
	}
	return Employee{}, ErrEmployeeNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Employee, error) {
	employees := []Employee{}
	for _, emp := range r.employees {
		if filter.Department != "" && emp.Department != filter.Department {
			continue
		}
		if filter.ActiveOnly && !emp.Active {
			continue
		}
		employees = append(employees, *emp)
	}
	return employees, nil
}

func (r *memoryRepo) Update(ctx context.Context, emp Employee) (Employee, error) {
	stored, ok := r.employees[emp.ID]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	stored.Name = emp.Name
	stored.Department = emp.Department
	stored.Email = emp.Email
	return *stored, nil
}

func (r *memoryRepo) Deactivate(ctx context.Context, id int64) (Employee, error) {
	stored, ok := r.employees[id]
	if !ok || !stored.Active {
		return Employee{}, ErrEmployeeNotFound
	}
	stored.Active = false
	now := time.Now().UTC()
	stored.LeftAt = &now
	return *stored, nil
}

func (r *memoryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	emp, ok := r.employees[id]
	return ok && emp.Active, nil
}

func TestCreateNormalizesJobNumber(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	emp, err := svc.Create(context.Background(), CreateInput{
		Name:       "  Juma Hassan ",
		Department: "Drilling",
		JobNumber:  " dr-014 ",
	})
	require.NoError(t, err)
	require.Equal(t, "Juma Hassan", emp.Name)
	require.Equal(t, "DR-014", emp.JobNumber)
	require.True(t, emp.Active)

	// Lookups are insensitive to entry style.
	found, err := svc.GetByJobNumber(context.Background(), "dr-014")
	require.NoError(t, err)
	require.Equal(t, emp.ID, found.ID)
}

func TestCreateRejectsDuplicateJobNumber(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Name: "Juma", Department: "Drilling", JobNumber: "DR-014"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "Asha", Department: "Survey", JobNumber: "dr-014"})
	var dup *DuplicateJobNumberError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "DR-014", dup.JobNumber)
}

func TestCreateRequiresFields(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	var verr *ValidationError

	_, err := svc.Create(ctx, CreateInput{Department: "Drilling", JobNumber: "DR-1"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "name", verr.Field)

	_, err = svc.Create(ctx, CreateInput{Name: "Juma", JobNumber: "DR-1"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "department", verr.Field)

	_, err = svc.Create(ctx, CreateInput{Name: "Juma", Department: "Drilling", JobNumber: "   "})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "job_number", verr.Field)
}

func TestDeactivateRemovesFromIssuanceLookups(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	emp, err := svc.Create(ctx, CreateInput{Name: "Juma", Department: "Drilling", JobNumber: "DR-1"})
	require.NoError(t, err)

	exists, err := svc.EmployeeExists(ctx, emp.ID)
	require.NoError(t, err)
	require.True(t, exists)

	retired, err := svc.Deactivate(ctx, emp.ID, 1)
	require.NoError(t, err)
	require.False(t, retired.Active)
	require.NotNil(t, retired.LeftAt)

	exists, err = svc.EmployeeExists(ctx, emp.ID)
	require.NoError(t, err)
	require.False(t, exists)

	// A second deactivation reports not found.
	_, err = svc.Deactivate(ctx, emp.ID, 1)
	require.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestListFiltersByDepartment(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateInput{Name: "Juma", Department: "Drilling", JobNumber: "DR-1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{Name: "Asha", Department: "Survey", JobNumber: "SV-1"})
	require.NoError(t, err)

	drilling, err := svc.List(ctx, ListFilter{Department: "Drilling"})
	require.NoError(t, err)
	require.Len(t, drilling, 1)
	require.Equal(t, "Juma", drilling[0].Name)
}
