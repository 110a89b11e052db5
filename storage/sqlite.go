package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"snap/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is the persisted store. Opening it performs no I/O; the first
// Prepare call (or the first query) touches the file.
type SQLite struct {
	DB       *sql.DB
	Path     string
	InMemory bool
	Logger   *zap.SugaredLogger

	mu       sync.Mutex
	prepared bool
	closed   bool
}

var adoModes = map[string]string{
	"readwritecreate": "rwc",
	"readwrite":       "rw",
	"readonly":        "ro",
	"memory":          "memory",
}

// buildDSN turns a parsed connection string into a modernc.org/sqlite URI.
// Per-connection pragmas go through _pragma so every pooled connection gets them.
func buildDSN(cs config.ConnectionString) string {
	params := url.Values{}
	for k, vs := range cs.Params {
		for _, v := range vs {
			if k == "mode" {
				if mapped, ok := adoModes[strings.ToLower(v)]; ok {
					v = mapped
				}
			}
			params.Add(k, v)
		}
	}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")

	name := cs.Path
	if cs.InMemory {
		// Named so that separate stores in one process never share data
		name = "snap-" + uuid.NewString()
		params.Set("mode", "memory")
		params.Set("cache", "shared")
	}
	return "file:" + name + "?" + params.Encode()
}

// Open returns a lazily connected store for the given connection string
func Open(cs config.ConnectionString, logger *zap.SugaredLogger) (*SQLite, error) {
	db, err := sql.Open("sqlite", buildDSN(cs))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single writer; WAL readers would need a second pool and the API
	// load here does not warrant one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if !cs.InMemory {
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	return &SQLite{
		DB:       db,
		Path:     cs.Path,
		InMemory: cs.InMemory,
		Logger:   logger,
	}, nil
}

// Prepare connects to the database and applies journal settings. It is safe to call
// repeatedly; after the first success it is a no-op.
func (s *SQLite) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.prepared {
		return nil
	}

	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var fkEnabled int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	// In-memory databases use "memory" journal mode, not "wal"
	if !s.InMemory {
		var journalMode string
		if err := s.DB.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if journalMode != "wal" {
			s.Logger.Warnw("SQLite journal mode is not WAL", "journal_mode", journalMode, "path", s.Path)
		}
	}

	s.prepared = true
	s.Logger.Infow("SQLite store ready", "path", s.describe())
	return nil
}

// Ready reports whether Prepare has succeeded
func (s *SQLite) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepared && !s.closed
}

// Ping checks the connection without preparing it
func (s *SQLite) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close closes the database
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.DB.Close()
}

func (s *SQLite) describe() string {
	if s.InMemory {
		return ":memory:"
	}
	return s.Path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
