package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gender is stored as an integer since migration 20250221152002
type Gender int

const (
	GenderUnspecified Gender = iota
	GenderMale
	GenderFemale
)

var genderNames = map[Gender]string{
	GenderUnspecified: "Unspecified",
	GenderMale:        "Male",
	GenderFemale:      "Female",
}

func (g Gender) String() string {
	if name, ok := genderNames[g]; ok {
		return name
	}
	return genderNames[GenderUnspecified]
}

// ParseGender accepts the names produced by String, case-insensitively.
// The empty string maps to GenderUnspecified.
func ParseGender(s string) (Gender, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GenderUnspecified, nil
	}
	for g, name := range genderNames {
		if strings.EqualFold(name, s) {
			return g, nil
		}
	}
	return GenderUnspecified, fmt.Errorf("unknown gender %q", s)
}

// About is a user's public profile
type About struct {
	ID        string     `map:"ID"`
	UserID    int64      `map:"UserID"`
	FullName  string     `map:"FullName"`
	Bio       string     `map:"Bio"`
	Gender    Gender     `map:"Gender"`
	BirthDate *time.Time `map:"-"`
	CreatedAt time.Time  `map:"-"`
	UpdatedAt time.Time  `map:"-"`
}

// AboutStorage persists about profiles
type AboutStorage interface {
	CreateAbout(ctx context.Context, about *About) error
	GetAbout(ctx context.Context, id string) (*About, error)
	ListAbouts(ctx context.Context, userID int64) ([]*About, error)
	DeleteAbout(ctx context.Context, id string) error
}

// SQLiteAboutStorage implements AboutStorage using SQLite
type SQLiteAboutStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAboutStorage creates a new SQLite-based about storage
func NewSQLiteAboutStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAboutStorage {
	return &SQLiteAboutStorage{sqlite: sqlite, logger: logger}
}

const dateLayout = "2006-01-02"

// CreateAbout inserts a profile, assigning an ID when none is set
func (s *SQLiteAboutStorage) CreateAbout(ctx context.Context, about *About) error {
	if about.ID == "" {
		about.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	about.CreatedAt = now
	about.UpdatedAt = now

	var birthDate any
	if about.BirthDate != nil {
		birthDate = about.BirthDate.Format(dateLayout)
	}

	_, err := s.sqlite.DB.ExecContext(ctx, `
		INSERT INTO abouts (id, user_id, full_name, bio, gender, birth_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, about.ID, about.UserID, about.FullName, about.Bio, int(about.Gender), birthDate,
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create about: %w", err)
	}
	return nil
}

const aboutColumns = `id, user_id, full_name, bio, gender, birth_date, created_at, updated_at`

func scanAbout(row rowScanner) (*About, error) {
	var about About
	var gender int
	var birthDate sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&about.ID, &about.UserID, &about.FullName, &about.Bio, &gender,
		&birthDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	about.Gender = Gender(gender)
	if birthDate.Valid {
		if t, err := time.Parse(dateLayout, birthDate.String); err == nil {
			about.BirthDate = &t
		}
	}
	about.CreatedAt = parseTime(createdAt)
	about.UpdatedAt = parseTime(updatedAt)
	return &about, nil
}

// GetAbout retrieves a profile by ID
func (s *SQLiteAboutStorage) GetAbout(ctx context.Context, id string) (*About, error) {
	row := s.sqlite.DB.QueryRowContext(ctx, `SELECT `+aboutColumns+` FROM abouts WHERE id = ?`, id)
	about, err := scanAbout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAboutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get about: %w", err)
	}
	return about, nil
}

// ListAbouts returns the profiles owned by userID, or all profiles when userID is 0
func (s *SQLiteAboutStorage) ListAbouts(ctx context.Context, userID int64) ([]*About, error) {
	query := `SELECT ` + aboutColumns + ` FROM abouts`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list abouts: %w", err)
	}
	defer rows.Close()

	var abouts []*About
	for rows.Next() {
		about, err := scanAbout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan about: %w", err)
		}
		abouts = append(abouts, about)
	}
	return abouts, rows.Err()
}

// DeleteAbout removes a profile
func (s *SQLiteAboutStorage) DeleteAbout(ctx context.Context, id string) error {
	result, err := s.sqlite.DB.ExecContext(ctx, `DELETE FROM abouts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete about: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAboutNotFound
	}
	return nil
}
