package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SQLiteUserStorage implements UserStorage using SQLite
type SQLiteUserStorage struct {
	sqlite     *SQLite
	logger     *zap.SugaredLogger
	bcryptCost int
}

// NewSQLiteUserStorage creates a new SQLite-based user storage
func NewSQLiteUserStorage(sqlite *SQLite, bcryptCost int, logger *zap.SugaredLogger) *SQLiteUserStorage {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &SQLiteUserStorage{
		sqlite:     sqlite,
		logger:     logger,
		bcryptCost: bcryptCost,
	}
}

// CreateUser creates a new user, hashing user.Password. An existing username
// is reported as ErrUserExists and never overwritten.
func (sus *SQLiteUserStorage) CreateUser(ctx context.Context, user *User) error {
	if strings.TrimSpace(user.Username) == "" {
		return errors.New("username is required")
	}
	if user.Password == "" {
		return errors.New("password is required")
	}

	existing, err := sus.GetUserByUsername(ctx, user.Username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), sus.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if user.Roles == nil {
		user.Roles = []string{}
	}
	rolesJSON, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Active = true

	result, err := sus.sqlite.DB.ExecContext(ctx, `
		INSERT INTO users (username, email, display_name, password_hash, roles, active,
		                   must_change_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.Username,
		user.Email,
		user.DisplayName,
		string(hashedPassword),
		string(rolesJSON),
		boolToInt(user.Active),
		boolToInt(user.MustChangePassword),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		// Lost a race with another writer
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		user.ID = id
	}
	user.Password = string(hashedPassword)

	sus.logger.Infof("Created user %s", user.Username)
	return nil
}

const userColumns = `id, username, email, display_name, password_hash, roles, active,
	must_change_password, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var rolesJSON, createdAt, updatedAt string
	var active, mustChange int
	var lastLogin sql.NullString

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.Password,
		&rolesJSON,
		&active,
		&mustChange,
		&lastLogin,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rolesJSON), &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to parse roles: %w", err)
	}
	user.Active = active == 1
	user.MustChangePassword = mustChange == 1
	user.LastLoginAt = parseNullTime(lastLogin)
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return &user, nil
}

// GetUserByUsername retrieves a user by username (case-insensitive)
func (sus *SQLiteUserStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := sus.sqlite.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers retrieves all users ordered by username
func (sus *SQLiteUserStorage) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := sus.sqlite.DB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ValidateCredentials checks a username/password pair
func (sus *SQLiteUserStorage) ValidateCredentials(ctx context.Context, username, password string) (*User, error) {
	user, err := sus.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn comparable time so unknown usernames are not distinguishable
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3h6bmrLM3Yb1B6rT8Y5p5yK"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return user, nil
}

// RecordLogin stamps the last successful login
func (sus *SQLiteUserStorage) RecordLogin(ctx context.Context, username string, at time.Time) error {
	result, err := sus.sqlite.DB.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE username = ?`,
		formatTime(at), formatTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user and, through the foreign key, their about profiles
func (sus *SQLiteUserStorage) DeleteUser(ctx context.Context, username string) error {
	result, err := sus.sqlite.DB.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	sus.logger.Infof("Deleted user %s", username)
	return nil
}
