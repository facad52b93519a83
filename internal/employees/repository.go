package employees

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed employee directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const employeeColumns = `id, name, department, COALESCE(email, ''), job_number, active, created_at, left_at`

func scanEmployee(row pgx.Row) (Employee, error) {
	var emp Employee
	err := row.Scan(&emp.ID, &emp.Name, &emp.Department, &emp.Email, &emp.JobNumber, &emp.Active, &emp.CreatedAt, &emp.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Employee{}, ErrEmployeeNotFound
	}
	if err != nil {
		return Employee{}, fmt.Errorf("scan employee: %w", err)
	}
	return emp, nil
}

// Insert stores a new directory entry.
func (r *Repository) Insert(ctx context.Context, emp Employee) (Employee, error) {
	row := r.pool.QueryRow(ctx, `
        INSERT INTO employees (name, department, email, job_number, active, created_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, TRUE, NOW())
        RETURNING `+employeeColumns,
		emp.Name, emp.Department, emp.Email, emp.JobNumber,
	)
	created, err := scanEmployee(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Employee{}, &DuplicateJobNumberError{JobNumber: emp.JobNumber}
		}
		return Employee{}, err
	}
	return created, nil
}

// Get returns one entry by id.
func (r *Repository) Get(ctx context.Context, id int64) (Employee, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id)
	return scanEmployee(row)
}

// GetByJobNumber returns one entry by its normalized job number.
func (r *Repository) GetByJobNumber(ctx context.Context, jobNumber string) (Employee, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE job_number = $1`, jobNumber)
	return scanEmployee(row)
}

// ListFilter narrows directory listings.
type ListFilter struct {
	Department string
	ActiveOnly bool
	Limit      int
}

// List returns directory entries matching the filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Employee, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
        SELECT `+employeeColumns+`
        FROM employees
        WHERE ($1 = '' OR department = $1)
          AND (NOT $2 OR active)
        ORDER BY name
        LIMIT $3`,
		filter.Department, filter.ActiveOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	employees := []Employee{}
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// Update rewrites the mutable fields of one entry.
func (r *Repository) Update(ctx context.Context, emp Employee) (Employee, error) {
	row := r.pool.QueryRow(ctx, `
        UPDATE employees
        SET name = $2, department = $3, email = NULLIF($4, '')
        WHERE id = $1
        RETURNING `+employeeColumns,
		emp.ID, emp.Name, emp.Department, emp.Email,
	)
	return scanEmployee(row)
}

// Deactivate retires an entry without deleting its history.
func (r *Repository) Deactivate(ctx context.Context, id int64) (Employee, error) {
	row := r.pool.QueryRow(ctx, `
        UPDATE employees
        SET active = FALSE, left_at = NOW()
        WHERE id = $1 AND active
        RETURNING `+employeeColumns,
		id,
	)
	return scanEmployee(row)
}

// Exists reports whether an active entry with the id is in the directory.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1 AND active)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("employee exists: %w", err)
	}
	return exists, nil
}
