package storage

import "errors"

// Storage error constants
var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when creating a user whose username is taken
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned when a username/password pair does not match
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserInactive is returned when credentials match a disabled account
	ErrUserInactive = errors.New("user account is disabled")

	// ErrRoleNotFound is returned when a role is not found
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose name is taken
	ErrRoleExists = errors.New("role already exists")

	// ErrAboutNotFound is returned when an about profile is not found
	ErrAboutNotFound = errors.New("about profile not found")

	// ErrMigrationNotFound is returned when a version is not registered with the runner
	ErrMigrationNotFound = errors.New("migration not registered")

	// ErrMigrationNotApplied is returned when rolling back a migration that is not applied
	ErrMigrationNotApplied = errors.New("migration not applied")

	// ErrIrreversibleMigration is returned when a migration has no Down step
	ErrIrreversibleMigration = errors.New("migration does not support rollback")

	// ErrStoreClosed is returned by operations on a closed store
	ErrStoreClosed = errors.New("store is closed")
)
