package util

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy defines password complexity requirements for self-service registration
type PasswordPolicy struct {
	MinLength      int // Minimum password length
	MaxLength      int // Maximum password length, bounds bcrypt input
	RequireClasses int // Number of character classes required out of upper, lower, digit, special
}

// DefaultPasswordPolicy returns the policy applied to new accounts
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      8,
		MaxLength:      72,
		RequireClasses: 3,
	}
}

func characterClasses(password string) int {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	n := 0
	for _, ok := range []bool{upper, lower, digit, special} {
		if ok {
			n++
		}
	}
	return n
}

// Validate checks password against the policy. The returned message is safe to show to the caller.
func (p PasswordPolicy) Validate(password, username string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return fmt.Errorf("password must be no more than %d characters long", p.MaxLength)
	}
	for _, r := range password {
		if unicode.IsControl(r) {
			return errors.New("password contains invalid control characters")
		}
	}
	if characterClasses(password) < p.RequireClasses {
		return fmt.Errorf("password must contain at least %d of the following: uppercase letters, lowercase letters, digits, special characters", p.RequireClasses)
	}
	if username != "" && strings.Contains(strings.ToLower(password), strings.ToLower(username)) {
		return errors.New("password cannot contain the username")
	}
	return nil
}
