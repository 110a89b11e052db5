package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"snap/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	t.Run("file path with ado mode", func(t *testing.T) {
		cs := config.ConnectionString{Path: "./data/snap.db", Params: url.Values{"mode": {"ReadWriteCreate"}}}
		dsn := buildDSN(cs)
		assert.True(t, strings.HasPrefix(dsn, "file:./data/snap.db?"), dsn)
		assert.Contains(t, dsn, "mode=rwc")
		assert.Contains(t, dsn, "_pragma=foreign_keys%281%29")
	})

	t.Run("in-memory stores are isolated", func(t *testing.T) {
		cs := config.ConnectionString{InMemory: true}
		a, b := buildDSN(cs), buildDSN(cs)
		assert.NotEqual(t, a, b)
		assert.Contains(t, a, "mode=memory")
	})
}

func TestOpen_IsLazy(t *testing.T) {
	// A directory that does not exist: opening succeeds, preparing fails
	cs := config.ConnectionString{Path: filepath.Join(t.TempDir(), "missing", "snap.db")}

	db, err := Open(cs, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.False(t, db.Ready())
	err = db.Prepare(context.Background())
	require.Error(t, err)
	assert.False(t, db.Ready())
}

func TestPrepare(t *testing.T) {
	db := openTestSQLite(t)
	assert.True(t, db.Ready())

	// idempotent
	require.NoError(t, db.Prepare(context.Background()))

	var mode string
	require.NoError(t, db.DB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestPrepare_InMemory(t *testing.T) {
	db, err := Open(config.ConnectionString{InMemory: true}, testLogger(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Prepare(context.Background()))
	_, err = db.DB.Exec(`CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)
	_, err = db.DB.Exec(`INSERT INTO t VALUES (1)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.DB.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestClose(t *testing.T) {
	db := openTestSQLite(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Prepare(context.Background()), ErrStoreClosed)
}
