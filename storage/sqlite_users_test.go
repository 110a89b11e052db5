package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newUserStorage(t *testing.T) *SQLiteUserStorage {
	return NewSQLiteUserStorage(openMigratedSQLite(t), bcrypt.MinCost, testLogger(t))
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	users := newUserStorage(t)

	user := &User{
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "correct horse battery",
		Roles:       []string{RoleMember},
	}
	require.NoError(t, users.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)
	assert.True(t, user.Active)
	assert.NotEqual(t, "correct horse battery", user.Password, "password is hashed")

	got, err := users.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err, "usernames are case-insensitive")
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, []string{RoleMember}, got.Roles)
	assert.True(t, got.HasRole(RoleMember))
	assert.Nil(t, got.LastLoginAt)
}

func TestCreateUser_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	users := newUserStorage(t)

	require.NoError(t, users.CreateUser(ctx, &User{Username: "bob", Email: "first@example.com", Password: "pw-one"}))

	err := users.CreateUser(ctx, &User{Username: "bob", Email: "second@example.com", Password: "pw-two"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := users.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", got.Email)

	_, err = users.ValidateCredentials(ctx, "bob", "pw-one")
	assert.NoError(t, err)
}

func TestCreateUser_RequiresFields(t *testing.T) {
	users := newUserStorage(t)
	assert.Error(t, users.CreateUser(context.Background(), &User{Username: " ", Password: "x"}))
	assert.Error(t, users.CreateUser(context.Background(), &User{Username: "x"}))
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	users := newUserStorage(t)
	_, err := users.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateCredentials(t *testing.T) {
	ctx := context.Background()
	users := newUserStorage(t)
	require.NoError(t, users.CreateUser(ctx, &User{Username: "carol", Password: "s3cret-pass"}))

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "valid", username: "carol", password: "s3cret-pass"},
		{name: "wrong password", username: "carol", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown user", username: "dave", password: "s3cret-pass", wantErr: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := users.ValidateCredentials(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)
		})
	}
}

func TestRecordLoginAndList(t *testing.T) {
	ctx := context.Background()
	users := newUserStorage(t)
	require.NoError(t, users.CreateUser(ctx, &User{Username: "zed", Password: "pw"}))
	require.NoError(t, users.CreateUser(ctx, &User{Username: "amy", Password: "pw"}))

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, users.RecordLogin(ctx, "zed", at))
	assert.ErrorIs(t, users.RecordLogin(ctx, "ghost", at), ErrUserNotFound)

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "amy", list[0].Username)
	require.NotNil(t, list[1].LastLoginAt)
	assert.True(t, at.Equal(*list[1].LastLoginAt))
}

func TestDeleteUser_CascadesAbouts(t *testing.T) {
	ctx := context.Background()
	db := openMigratedSQLite(t)
	users := NewSQLiteUserStorage(db, bcrypt.MinCost, testLogger(t))
	abouts := NewSQLiteAboutStorage(db, testLogger(t))

	user := &User{Username: "erin", Password: "pw"}
	require.NoError(t, users.CreateUser(ctx, user))
	about := &About{UserID: user.ID, FullName: "Erin"}
	require.NoError(t, abouts.CreateAbout(ctx, about))

	require.NoError(t, users.DeleteUser(ctx, "erin"))
	_, err := abouts.GetAbout(ctx, about.ID)
	assert.ErrorIs(t, err, ErrAboutNotFound)
	assert.ErrorIs(t, users.DeleteUser(ctx, "erin"), ErrUserNotFound)
}
