// Package users holds the actor directory. It stores roles and password
// hashes only; login flows live outside this system.
package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is a named set of capabilities.
type Role string

const (
	// RoleStoreManager runs day-to-day stock operations.
	RoleStoreManager Role = "StoreManager"
	// RoleManagingDirector signs off issuances and purchase orders.
	RoleManagingDirector Role = "ManagingDirector"
	// RoleAccountsManager marks funded accounts and records payments.
	RoleAccountsManager Role = "AccountsManager"
	// RoleHumanResourceManager maintains the employee directory.
	RoleHumanResourceManager Role = "HumanResourceManager"
)

// Valid reports whether the role is one this system knows.
func (r Role) Valid() bool {
	switch r {
	case RoleStoreManager, RoleManagingDirector, RoleAccountsManager, RoleHumanResourceManager:
		return true
	}
	return false
}

// CanApproveIssues reports whether the role may decide issuance approvals.
func (r Role) CanApproveIssues() bool {
	return r == RoleManagingDirector
}

// CanApproveOrders reports whether the role may approve or reject
// purchase orders and select vendor offers.
func (r Role) CanApproveOrders() bool {
	return r == RoleManagingDirector
}

// CanRecordPayments reports whether the role may mark funded accounts
// and record purchase order payments.
func (r Role) CanRecordPayments() bool {
	return r == RoleAccountsManager
}

// User is one actor in the directory. PasswordHash never leaves the
// package through JSON.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrUserNotFound is returned when no directory entry matches.
var ErrUserNotFound = errors.New("user not found")

// DuplicateUsernameError reports a username already taken.
type DuplicateUsernameError struct {
	Username string
}

func (e *DuplicateUsernameError) Error() string {
	return fmt.Sprintf("username %q already registered", e.Username)
}

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NormalizeUsername lower-cases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
