package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"snap/config"
	"snap/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoSigningSecret is returned when tokens cannot be signed
var ErrNoSigningSecret = errors.New("JWT signing secret is not configured")

// Claims represents JWT claims
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies bearer tokens
type TokenIssuer struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer from the auth settings
func NewTokenIssuer(cfg config.AuthConfig) (*TokenIssuer, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSigningSecret
	}
	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// Issue creates a token for user and returns it with its expiry
func (t *TokenIssuer) Issue(user *storage.User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.expiry)

	claims := &Claims{
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies tokenString and returns its claims
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Principal converts verified claims into the request principal
func (c *Claims) Principal() (*Principal, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject %q: %w", c.Subject, err)
	}
	return &Principal{UserID: id, Username: c.Username, Roles: c.Roles}, nil
}
