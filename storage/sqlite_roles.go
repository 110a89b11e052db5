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
)

// SQLiteRoleStorage implements RoleStorage using SQLite
type SQLiteRoleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRoleStorage creates a new SQLite-based role storage
func NewSQLiteRoleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRoleStorage {
	return &SQLiteRoleStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var permissionsJSON, createdAt, updatedAt string

	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to parse permissions: %w", err)
	}
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)
	return &role, nil
}

// GetRoleByName retrieves a role by name
func (srs *SQLiteRoleStorage) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := srs.sqlite.DB.QueryRowContext(ctx, `
		SELECT id, name, description, permissions, created_at, updated_at
		FROM roles
		WHERE name = ?
	`, name)

	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// ListRoles retrieves all roles
func (srs *SQLiteRoleStorage) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := srs.sqlite.DB.QueryContext(ctx, `
		SELECT id, name, description, permissions, created_at, updated_at
		FROM roles
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// CreateRole creates a new role
func (srs *SQLiteRoleStorage) CreateRole(ctx context.Context, role *Role) error {
	if role.Permissions == nil {
		role.Permissions = []Permission{}
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	result, err := srs.sqlite.DB.ExecContext(ctx, `
		INSERT INTO roles (name, description, permissions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, role.Name, role.Description, string(permissionsJSON), formatTime(now), formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoleExists
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		role.ID = id
	}
	return nil
}

// SeedDefaultRoles creates any default role that does not exist yet.
// Existing roles are left untouched, including their permissions.
func (srs *SQLiteRoleStorage) SeedDefaultRoles(ctx context.Context) error {
	existingRoles, err := srs.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existing roles: %w", err)
	}

	existing := make(map[string]bool, len(existingRoles))
	for _, r := range existingRoles {
		existing[strings.ToLower(r.Name)] = true
	}

	created := 0
	for _, role := range GetDefaultRoles() {
		if existing[role.Name] {
			continue
		}
		roleToCreate := role
		if err := srs.CreateRole(ctx, &roleToCreate); err != nil && !errors.Is(err, ErrRoleExists) {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
		srs.logger.Infof("Seeded default role: %s (ID: %d)", roleToCreate.Name, roleToCreate.ID)
		created++
	}

	if created == 0 {
		srs.logger.Info("Roles already seeded, skipping default role creation")
	}
	return nil
}
