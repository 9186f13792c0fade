// ABOUTME: Bearer credential held by the client for the chat service
// ABOUTME: Inspects JWT claims (unverified) to detect expiry and recover the username

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrExpiredToken      = errors.New("token expired")
	ErrNotJWT            = errors.New("token is not a JWT")
)

// Credential is the bearer token issued at login plus the username it was
// issued for.
type Credential struct {
	Token    string
	Username string
}

// Claims are the fields the client reads from a JWT credential.
type Claims struct {
	Subject   string
	Username  string
	ExpiresAt time.Time // zero if the token carries no exp claim
}

// ParseClaims decodes a JWT without verifying its signature. Verification
// belongs to the server; the client only needs expiry and identity hints.
// Returns ErrNotJWT for opaque tokens.
func ParseClaims(token string) (Claims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	var out Claims
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if name, ok := claims["username"].(string); ok {
		out.Username = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// Validate reports whether the credential is usable at now. Opaque
// (non-JWT) tokens are accepted as long as they are non-empty.
func (c *Credential) Validate(now time.Time) error {
	if c == nil || c.Token == "" {
		return ErrMissingCredential
	}

	claims, err := ParseClaims(c.Token)
	if err != nil {
		return nil
	}
	if !claims.ExpiresAt.IsZero() && !now.Before(claims.ExpiresAt) {
		return ErrExpiredToken
	}
	return nil
}

// ResolveUsername returns the stored username, falling back to the token's
// username or sub claim.
func (c *Credential) ResolveUsername() string {
	if c == nil {
		return ""
	}
	if c.Username != "" {
		return c.Username
	}
	claims, err := ParseClaims(c.Token)
	if err != nil {
		return ""
	}
	if claims.Username != "" {
		return claims.Username
	}
	return claims.Subject
}
