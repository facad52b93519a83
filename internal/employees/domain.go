// Package employees holds the worker directory used to attribute
// issuances. It is a lookup surface, not an HR system.
package employees

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Employee is one directory entry.
type Employee struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Department string     `json:"department"`
	Email      string     `json:"email,omitempty"`
	JobNumber  string     `json:"job_number"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

// ErrEmployeeNotFound is returned when no directory entry matches.
var ErrEmployeeNotFound = errors.New("employee not found")

// DuplicateJobNumberError reports a job number already in the directory.
type DuplicateJobNumberError struct {
	JobNumber string
}

func (e *DuplicateJobNumberError) Error() string {
	return fmt.Sprintf("job number %q already registered", e.JobNumber)
}

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NormalizeJobNumber upper-cases and trims a job number so lookups are
// insensitive to entry style.
func NormalizeJobNumber(jobNumber string) string {
	return strings.ToUpper(strings.TrimSpace(jobNumber))
}
