package api

import (
	"context"
)

// contextKey is a private type to prevent context key collisions across packages
type contextKey string

const (
	// ContextKeyPrincipal stores the authenticated caller (*Principal)
	ContextKeyPrincipal contextKey = "principal"

	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"

	// contextKeyRejectedToken marks a request whose credentials were ignored (error)
	contextKeyRejectedToken contextKey = "rejected_token"
)

// Principal is the caller identified by the authentication stage
type Principal struct {
	UserID   int64
	Username string
	Roles    []string
}

// HasRole reports whether the principal holds role
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetPrincipal extracts the authenticated caller from the context
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal stores the authenticated caller in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}

// WithRequestID stores the request ID in the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

func withRejectedToken(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, contextKeyRejectedToken, err)
}

func rejectedToken(ctx context.Context) error {
	err, _ := ctx.Value(contextKeyRejectedToken).(error)
	return err
}
