package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"snap/config"

	"go.uber.org/zap"
)

// DataDirectories are the paths that need to exist before the store is opened
type DataDirectories struct {
	Base  string // Base data directory (default: ./data)
	Store string // Directory holding the SQLite file; empty for in-memory stores
}

// DataDirectoriesFromConfig derives the directories from configuration
func DataDirectoriesFromConfig(cfg *config.Config, cs config.ConnectionString) DataDirectories {
	dirs := DataDirectories{Base: cfg.DataDir}
	if dirs.Base == "" {
		dirs.Base = "./data"
	}
	if !cs.InMemory && cs.Path != "" {
		dirs.Store = filepath.Dir(cs.Path)
	}
	return dirs
}

// EnsureDataDirectories creates the data directories and verifies they are writable
func EnsureDataDirectories(dirs DataDirectories, sugar *zap.SugaredLogger) error {
	seen := make(map[string]bool)
	for _, dir := range []string{dirs.Base, dirs.Store} {
		if dir == "" {
			continue
		}
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
		}
		if seen[absPath] {
			continue
		}
		seen[absPath] = true

		if err := os.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions\n"+
				"  For bare metal: Run 'mkdir -p %s && chmod 755 %s'", dir, err, absPath, absPath)
		}

		testFile := filepath.Join(absPath, ".snap_write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
			return fmt.Errorf("directory %s is not writable: %w\n"+
				"  Remediation: Check file system permissions\n"+
				"  For Docker: Ensure volume is mounted with write access\n"+
				"  For bare metal: Run 'chmod -R u+w %s'", dir, err, absPath)
		}
		_ = os.Remove(testFile)

		sugar.Infow("Data directory ready", "path", absPath)
	}
	return nil
}

// GenerateSecurePassword generates a cryptographically secure random password.
func GenerateSecurePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	password := base64.URLEncoding.EncodeToString(bytes)
	if len(password) > length {
		password = password[:length]
	}

	return password, nil
}

// ClassifySQLiteError turns a store failure into an operator-facing explanation
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}

	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	if containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied") {
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Possible causes:\n"+
			"  - The database file or directory has incorrect permissions\n"+
			"  - Another process has an exclusive lock on the file\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s\n"+
			"  - For Docker: Ensure volume is mounted with proper user permissions",
			absPath, absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY") {
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Possible causes:\n"+
			"  - Another Snap instance is running migrations\n"+
			"  - A crashed process left a stale lock\n"+
			"  Remediation:\n"+
			"  - Check for running Snap processes: ps aux | grep snap\n"+
			"  - If stale lock: Remove -shm and -wal files (CAUTION: only if no process is using them)",
			absPath)
	}

	if containsIgnoreCase(errStr, "disk full") || containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL") {
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s\n"+
			"  - Free up disk space or expand the volume", absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed") || containsIgnoreCase(errStr, "SQLITE_CORRUPT") {
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  CRITICAL: Backup any existing data before proceeding!\n"+
			"  Remediation options:\n"+
			"  1. Try recovery: sqlite3 %s \".recover\" | sqlite3 %s.recovered\n"+
			"  2. Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  3. If recovery fails, restore from backup",
			absPath, absPath, absPath, absPath)
	}

	if containsIgnoreCase(errStr, "unable to open database file") ||
		containsIgnoreCase(errStr, "no such file or directory") ||
		containsIgnoreCase(errStr, "cannot find the path") ||
		containsIgnoreCase(errStr, "not a directory") {
		return fmt.Sprintf("Cannot open SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Create the parent directory: mkdir -p %s\n"+
			"  - Verify SNAP_CONNECTION_STRING or connection_strings.default\n"+
			"  - Check that you have write permissions to create files there",
			absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "read-only") {
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Remount the file system as read-write\n"+
			"  - For Docker: Ensure volume is not mounted as read-only", absPath)
	}

	return fmt.Sprintf("Failed to use SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable\n"+
		"  - Check disk space and permissions", absPath, err, parentDir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
