package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration represents a database migration with up and down operations
type Migration struct {
	Version     string              // Creation timestamp, e.g. "20250221152002"
	Name        string              // Descriptive name (e.g., "add_gender_as_enum")
	Description string              // Human-readable description
	Up          func(*sql.Tx) error // Apply migration
	Down        func(*sql.Tx) error // Rollback migration (optional)
	Checksum    string              // SHA256 of version and name for drift detection
}

// MigrationRecord represents a row in the schema_migrations table
type MigrationRecord struct {
	ID        int64
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationReport summarizes one RunMigrations call
type MigrationReport struct {
	Applied []string // versions applied by this call, in order
	Pending int      // pending when the call started
	Failed  string   // version that aborted the run, if any
}

// MigrationStatus is the summary printed by the migrate CLI
type MigrationStatus struct {
	Registered      int
	Applied         []MigrationRecord
	Pending         []Migration
	IntegrityIssues []string
	LatestApplied   string
}

// MigrationRunner manages database migrations
type MigrationRunner struct {
	db         *sql.DB
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates a new migration runner. The ledger table is created
// on first use, so construction never touches the database.
func NewMigrationRunner(db *sql.DB, logger *zap.SugaredLogger) *MigrationRunner {
	return &MigrationRunner{
		db:         db,
		logger:     logger,
		migrations: make([]Migration, 0),
	}
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist
func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		rolled_back_at TEXT,
		rollback_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_schema_migrations_applied_at ON schema_migrations(applied_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Register adds a migration to the runner. Registration order does not matter;
// pending migrations are always applied in version order.
func (r *MigrationRunner) Register(m Migration) {
	if m.Checksum == "" {
		m.Checksum = calculateChecksum(m)
	}
	r.migrations = append(r.migrations, m)
}

// Registered returns the registered migrations in version order
func (r *MigrationRunner) Registered() []Migration {
	out := make([]Migration, len(r.migrations))
	copy(out, r.migrations)
	sortMigrations(out)
	return out
}

// calculateChecksum generates a SHA256 hash for migration drift detection
func calculateChecksum(m Migration) string {
	// Up/Down functions can't be hashed
	content := fmt.Sprintf("%s:%s", m.Version, m.Name)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8])
}

// GetAppliedMigrations returns all migrations that have been applied and not rolled back
func (r *MigrationRunner) GetAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, version, name, checksum, applied_at, duration_ms
		FROM schema_migrations
		WHERE rolled_back_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt string
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Name, &rec.Checksum, &appliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		rec.AppliedAt = parseTime(appliedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})
	return records, nil
}

// GetPendingMigrations returns migrations that haven't been applied yet, oldest first
func (r *MigrationRunner) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]bool, len(applied))
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}

	sortMigrations(pending)
	return pending, nil
}

// RunMigrations applies all pending migrations. It stops at the first failure;
// migrations applied before the failure stay applied.
func (r *MigrationRunner) RunMigrations(ctx context.Context) (*MigrationReport, error) {
	report := &MigrationReport{}

	pending, err := r.GetPendingMigrations(ctx)
	if err != nil {
		return report, err
	}
	report.Pending = len(pending)

	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return report, nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))

	for _, m := range pending {
		if err := r.runMigration(ctx, m); err != nil {
			report.Failed = m.Version
			return report, fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
		report.Applied = append(report.Applied, m.Version)
	}

	r.logger.Info("All migrations completed successfully")
	return report, nil
}

// runMigration applies a single migration and its ledger row within one transaction
func (r *MigrationRunner) runMigration(ctx context.Context, m Migration) (err error) {
	r.logger.Infof("Running migration %s: %s", m.Version, m.Name)
	start := time.Now()

	if m.Up == nil {
		return errors.New("migration has no Up function")
	}

	var tx *sql.Tx
	tx, err = r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Panics become errors so the caller can report and carry on
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("migration panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("migration panicked: %v", p)
			}
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			name = excluded.name,
			checksum = excluded.checksum,
			applied_at = excluded.applied_at,
			duration_ms = excluded.duration_ms,
			rolled_back_at = NULL,
			rollback_reason = NULL
	`, m.Version, m.Name, m.Checksum, formatTime(time.Now()), duration)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	r.logger.Infof("Migration %s completed in %dms", m.Version, duration)
	return nil
}

// RollbackMigration rolls back a specific migration by version
func (r *MigrationRunner) RollbackMigration(ctx context.Context, version string, reason string) (err error) {
	var migration *Migration
	for i := range r.migrations {
		if r.migrations[i].Version == version {
			migration = &r.migrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s: %w", version, ErrMigrationNotFound)
	}
	if migration.Down == nil {
		return fmt.Errorf("migration %s: %w", version, ErrIrreversibleMigration)
	}

	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	var appliedAt string
	err = r.db.QueryRowContext(ctx, `
		SELECT applied_at FROM schema_migrations
		WHERE version = ? AND rolled_back_at IS NULL
	`, version).Scan(&appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("migration %s: %w", version, ErrMigrationNotApplied)
	}
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	r.logger.Infof("Rolling back migration %s: %s (reason: %s)", version, migration.Name, reason)

	var tx *sql.Tx
	tx, err = r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("rollback panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("rollback panicked: %v", p)
			}
		}
	}()

	if err := migration.Down(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rollback Down() failed: %w", err)
	}

	// Soft delete keeps the history of what was applied
	_, err = tx.ExecContext(ctx, `
		UPDATE schema_migrations
		SET rolled_back_at = ?, rollback_reason = ?
		WHERE version = ?
	`, formatTime(time.Now()), reason, version)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to mark migration as rolled back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	r.logger.Infof("Migration %s rolled back successfully", version)
	return nil
}

// VerifyIntegrity checks for migration drift (modified or unknown applied migrations)
func (r *MigrationRunner) VerifyIntegrity(ctx context.Context) ([]string, error) {
	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]Migration, len(r.migrations))
	for _, m := range r.migrations {
		registered[m.Version] = m
	}

	var issues []string
	for _, rec := range applied {
		m, ok := registered[rec.Version]
		if !ok {
			issues = append(issues, fmt.Sprintf(
				"Migration %s was applied but is not registered (orphaned migration)",
				rec.Version,
			))
			continue
		}
		if m.Checksum != rec.Checksum {
			issues = append(issues, fmt.Sprintf(
				"Migration %s checksum mismatch: applied=%s, registered=%s (possible code drift)",
				rec.Version, rec.Checksum, m.Checksum,
			))
		}
	}

	return issues, nil
}

// GetMigrationStatus returns a summary of migration state
func (r *MigrationRunner) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := r.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	issues, err := r.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		Registered:      len(r.migrations),
		Applied:         applied,
		Pending:         pending,
		IntegrityIssues: issues,
	}
	if len(applied) > 0 {
		status.LatestApplied = applied[len(applied)-1].Version
	}
	return status, nil
}

func sortMigrations(ms []Migration) {
	sort.SliceStable(ms, func(i, j int) bool {
		return compareVersions(ms[i].Version, ms[j].Version) < 0
	})
}

// compareVersions orders timestamp versions numerically and falls back to
// dotted semantic versions ("1.2.0"). Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	maxLen := len(partsA)
	if len(partsB) > maxLen {
		maxLen = len(partsB)
	}

	for i := 0; i < maxLen; i++ {
		var numA, numB int64
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}

		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}
	return strings.Compare(a, b)
}

// validateSQLIdentifier validates that a string is a safe SQL identifier
// for dynamic schema operations
func validateSQLIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("SQL identifier cannot be empty")
	}
	if !(name[0] >= 'a' && name[0] <= 'z' || name[0] >= 'A' && name[0] <= 'Z' || name[0] == '_') {
		return fmt.Errorf("invalid SQL identifier %q: must start with letter or underscore", name)
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return fmt.Errorf("invalid SQL identifier %q: contains invalid character at position %d", name, i)
		}
	}
	return nil
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	if err := validateSQLIdentifier(table); err != nil {
		return false, fmt.Errorf("invalid table name: %w", err)
	}
	if err := validateSQLIdentifier(column); err != nil {
		return false, fmt.Errorf("invalid column name: %w", err)
	}

	var count int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name=?",
		table, column,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func addColumnIfNotExists(tx *sql.Tx, table, column, definition string) error {
	exists, err := columnExists(tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// Identifiers were validated by columnExists
	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

func dropColumnIfExists(tx *sql.Tx, table, column string) error {
	exists, err := columnExists(tx, table, column)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column))
	return err
}

func createIndexIfNotExists(tx *sql.Tx, indexName, table, columns string) error {
	if err := validateSQLIdentifier(indexName); err != nil {
		return fmt.Errorf("invalid index name: %w", err)
	}
	if err := validateSQLIdentifier(table); err != nil {
		return fmt.Errorf("invalid table name: %w", err)
	}
	for _, col := range strings.Split(columns, ",") {
		if err := validateSQLIdentifier(strings.TrimSpace(col)); err != nil {
			return fmt.Errorf("invalid column name in index: %w", err)
		}
	}

	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, table, columns)
	_, err := tx.Exec(query)
	return err
}
