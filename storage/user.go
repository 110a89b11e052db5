package storage

import (
	"context"
	"time"
)

// Permission represents a specific permission in the system
type Permission string

const (
	PermReadProfile  Permission = "read:profile"
	PermWriteProfile Permission = "write:profile"
	PermReadAbouts   Permission = "read:abouts"
	PermWriteAbouts  Permission = "write:abouts"
	PermReadUsers    Permission = "read:users"
	PermWriteUsers   Permission = "write:users"
	PermAdminSystem  Permission = "admin:system"
)

// Role represents a named collection of permissions
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasPermission reports whether the role grants p
func (r *Role) HasPermission(p Permission) bool {
	for _, have := range r.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// Predefined role names
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// GetDefaultRoles returns the roles every installation starts with
func GetDefaultRoles() []Role {
	now := time.Now()
	return []Role{
		{
			Name:        RoleMember,
			Description: "Registered user managing their own profile",
			Permissions: []Permission{
				PermReadProfile,
				PermWriteProfile,
				PermReadAbouts,
				PermWriteAbouts,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			Name:        RoleAdmin,
			Description: "Full access including user administration",
			Permissions: []Permission{
				PermReadProfile,
				PermWriteProfile,
				PermReadAbouts,
				PermWriteAbouts,
				PermReadUsers,
				PermWriteUsers,
				PermAdminSystem,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// User is an account held by the credential manager.
// Password carries the plain text on create and the bcrypt hash once loaded.
type User struct {
	ID                 int64      `json:"id" map:"ID"`
	Username           string     `json:"username" map:"Username"`
	Email              string     `json:"email" map:"Email"`
	DisplayName        string     `json:"display_name" map:"DisplayName"`
	Password           string     `json:"-" map:"-"`
	Roles              []string   `json:"roles" map:"Roles"`
	Active             bool       `json:"active" map:"Active"`
	MustChangePassword bool       `json:"must_change_password" map:"MustChangePassword"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty" map:"-"`
	CreatedAt          time.Time  `json:"created_at" map:"-"`
	UpdatedAt          time.Time  `json:"updated_at" map:"-"`
}

// HasRole reports whether the user holds the named role
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// UserStorage is the credential manager
type UserStorage interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	ValidateCredentials(ctx context.Context, username, password string) (*User, error)
	RecordLogin(ctx context.Context, username string, at time.Time) error
	DeleteUser(ctx context.Context, username string) error
}

// RoleStorage manages roles
type RoleStorage interface {
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role *Role) error
	SeedDefaultRoles(ctx context.Context) error
}
