package storage

import (
	"context"
	"path/filepath"
	"testing"

	"snap/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// openTestSQLite opens a prepared file-backed store in a temp directory
func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	cs := config.ConnectionString{Path: filepath.Join(t.TempDir(), "snap.db")}
	db, err := Open(cs, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Prepare(context.Background()))
	return db
}

// openMigratedSQLite opens a store with the full schema applied
func openMigratedSQLite(t *testing.T) *SQLite {
	t.Helper()
	db := openTestSQLite(t)
	runner := NewMigrationRunner(db.DB, testLogger(t))
	RegisterSQLiteMigrations(runner)
	_, err := runner.RunMigrations(context.Background())
	require.NoError(t, err)
	return db
}
