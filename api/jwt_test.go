package api

import (
	"testing"
	"time"

	"snap/config"
	"snap/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer(config.AuthConfig{})
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "snap", JWTExpiry: time.Hour})
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue(&storage.User{ID: 42, Username: "ada", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	principal, err := claims.Principal()
	require.NoError(t, err)
	assert.Equal(t, int64(42), principal.UserID)
	assert.Equal(t, "ada", principal.Username)
	assert.True(t, principal.HasRole("admin"))
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, err := NewTokenIssuer(config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "snap", JWTExpiry: time.Hour})
	require.NoError(t, err)
	user := &storage.User{ID: 1, Username: "ada"}

	other, err := NewTokenIssuer(config.AuthConfig{JWTSecret: "another-secret", JWTIssuer: "snap"})
	require.NoError(t, err)
	forged, _, err := other.Issue(user)
	require.NoError(t, err)

	foreign, err := NewTokenIssuer(config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "elsewhere"})
	require.NoError(t, err)
	wrongIssuer, _, err := foreign.Issue(user)
	require.NoError(t, err)

	past, err := NewTokenIssuer(config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "snap", JWTExpiry: time.Minute})
	require.NoError(t, err)
	past.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := past.Issue(user)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "ada"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": forged,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"alg none":     unsigned,
		"garbage":      "a.b.c",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Parse(token)
			assert.Error(t, err)
		})
	}
}
