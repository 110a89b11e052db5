package storage

import (
	"database/sql"
	"fmt"
)

// RegisterSQLiteMigrations registers all schema migrations with the runner.
// Versions are creation timestamps; keep new ones strictly increasing.
func RegisterSQLiteMigrations(runner *MigrationRunner) {
	for _, m := range SQLiteMigrations() {
		runner.Register(m)
	}
}

// SQLiteMigrations returns the schema history
func SQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     "20250110120000",
			Name:        "initial_identity",
			Description: "Users and roles tables for the credential manager",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE COLLATE NOCASE,
					description TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE COLLATE NOCASE,
					email TEXT NOT NULL DEFAULT '',
					display_name TEXT NOT NULL DEFAULT '',
					password_hash TEXT NOT NULL,
					roles TEXT NOT NULL DEFAULT '[]',
					active INTEGER NOT NULL DEFAULT 1,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`)
				if err != nil {
					return err
				}
				return createIndexIfNotExists(tx, "idx_users_email", "users", "email")
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS users; DROP TABLE IF EXISTS roles;`)
				return err
			},
		},
		{
			Version:     "20250118093000",
			Name:        "add_abouts",
			Description: "About profiles owned by users, gender stored as text",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS abouts (
					id TEXT PRIMARY KEY,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					full_name TEXT NOT NULL,
					bio TEXT NOT NULL DEFAULT '',
					gender TEXT NOT NULL DEFAULT '',
					birth_date TEXT,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);`)
				if err != nil {
					return err
				}
				return createIndexIfNotExists(tx, "idx_abouts_user_id", "abouts", "user_id")
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.Exec(`DROP TABLE IF EXISTS abouts`)
				return err
			},
		},
		{
			Version:     "20250221152002",
			Name:        "add_gender_as_enum",
			Description: "Store abouts.gender as an integer enum instead of free text",
			Up: func(tx *sql.Tx) error {
				return rebuildAbouts(tx, "INTEGER NOT NULL DEFAULT 0", fmt.Sprintf(`
					CASE lower(trim(gender))
						WHEN 'male' THEN %d
						WHEN 'female' THEN %d
						WHEN '1' THEN %d
						WHEN '2' THEN %d
						ELSE %d
					END`, GenderMale, GenderFemale, GenderMale, GenderFemale, GenderUnspecified))
			},
			Down: func(tx *sql.Tx) error {
				return rebuildAbouts(tx, "TEXT NOT NULL DEFAULT ''", fmt.Sprintf(`
					CASE gender
						WHEN %d THEN 'Male'
						WHEN %d THEN 'Female'
						ELSE ''
					END`, GenderMale, GenderFemale))
			},
		},
		{
			Version:     "20250302081500",
			Name:        "add_user_security_columns",
			Description: "Track forced password changes and last login on users",
			Up: func(tx *sql.Tx) error {
				if err := addColumnIfNotExists(tx, "users", "must_change_password", "INTEGER NOT NULL DEFAULT 0"); err != nil {
					return err
				}
				return addColumnIfNotExists(tx, "users", "last_login_at", "TEXT")
			},
			Down: func(tx *sql.Tx) error {
				if err := dropColumnIfExists(tx, "users", "last_login_at"); err != nil {
					return err
				}
				return dropColumnIfExists(tx, "users", "must_change_password")
			},
		},
	}
}

// rebuildAbouts changes the type of abouts.gender. SQLite cannot alter a column
// type in place, so the table is copied.
func rebuildAbouts(tx *sql.Tx, genderDefinition, genderExpr string) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE abouts_new (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			full_name TEXT NOT NULL,
			bio TEXT NOT NULL DEFAULT '',
			gender %s,
			birth_date TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, genderDefinition),
		fmt.Sprintf(`INSERT INTO abouts_new (id, user_id, full_name, bio, gender, birth_date, created_at, updated_at)
			SELECT id, user_id, full_name, bio, %s, birth_date, created_at, updated_at FROM abouts`, genderExpr),
		`DROP TABLE abouts`,
		`ALTER TABLE abouts_new RENAME TO abouts`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild abouts: %w", err)
		}
	}
	return createIndexIfNotExists(tx, "idx_abouts_user_id", "abouts", "user_id")
}
