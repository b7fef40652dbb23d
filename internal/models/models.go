// Package models defines the data structures shared by the storage and
// server layers.
package models

import (
	"context"
	"time"

	"github.com/maruel/ksid"
)

// contextKey is the type of context keys set by the server.
type contextKey string

// UserKey is the context key holding the authenticated *User.
const UserKey contextKey = "user"

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(UserKey).(*User)
	return u
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// User represents an account allowed to use the wiki.
type User struct {
	ID       ksid.ID   `json:"id" jsonschema:"description=Unique user identifier"`
	Email    string    `json:"email" jsonschema:"description=Login email address"`
	Name     string    `json:"name" jsonschema:"description=Display name recorded as the commit author"`
	Role     UserRole  `json:"role" jsonschema:"description=Global role,enum=admin,enum=editor,enum=viewer"`
	Created  time.Time `json:"created" jsonschema:"description=Account creation time"`
	Modified time.Time `json:"modified" jsonschema:"description=Last account change"`
}

// UserRole defines the permissions for a user.
type UserRole string

const (
	// RoleAdmin has full access, including repairs.
	RoleAdmin UserRole = "admin"
	// RoleEditor can create and modify documents.
	RoleEditor UserRole = "editor"
	// RoleViewer can only read documents.
	RoleViewer UserRole = "viewer"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleEditor || r == RoleViewer
}

// Allows reports whether r grants at least the permissions of required.
func (r UserRole) Allows(required UserRole) bool {
	return r.weight() >= required.weight()
}

func (r UserRole) weight() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
