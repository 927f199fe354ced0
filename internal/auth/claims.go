package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleOperator manages day-to-day access: decision requests,
	// webhook subscriptions, audit queries.
	RoleOperator Role = "operator"

	// RoleAdmin has full control including grant management.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles accepted in tokens.
var ValidRoles = []Role{RoleOperator, RoleAdmin}

// IsValidRole returns true if the role is one the API recognises.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for token validation.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token has expired")
)

// CustomClaims extends JWT registered claims with the fields the
// management API requires.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid,omitempty"`
}

// ParseToken validates and parses a JWT bearer token, returning the
// custom claims. It checks the signature, expiry, and required fields.
// Only HS256 is accepted; anything else fails closed.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}

	return claims, nil
}
