// ABOUTME: Tests for client-side credential inspection
// ABOUTME: Covers expiry detection, opaque tokens, and username fallback

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret-that-the-client-never-sees"))
	require.NoError(t, err)
	return signed
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{
		"sub":      "user-1",
		"username": "alice",
		"exp":      exp.Unix(),
	})

	claims, err := ParseClaims(token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, exp.Equal(claims.ExpiresAt))
}

func TestParseClaims_Opaque(t *testing.T) {
	_, err := ParseClaims("not-a-jwt")
	assert.True(t, errors.Is(err, ErrNotJWT))
}

func TestCredential_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		cred    *Credential
		wantErr error
	}{
		{"nil", nil, ErrMissingCredential},
		{"empty token", &Credential{Username: "alice"}, ErrMissingCredential},
		{"opaque token", &Credential{Token: "opaque-session-token"}, nil},
		{"jwt without exp", &Credential{Token: signToken(t, jwt.MapClaims{"sub": "u"})}, nil},
		{"jwt valid", &Credential{Token: signToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})}, nil},
		{"jwt expired", &Credential{Token: signToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})}, ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate(now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCredential_ResolveUsername(t *testing.T) {
	withSub := signToken(t, jwt.MapClaims{"sub": "bob"})
	withName := signToken(t, jwt.MapClaims{"sub": "id-7", "username": "carol"})

	assert.Equal(t, "alice", (&Credential{Token: withSub, Username: "alice"}).ResolveUsername())
	assert.Equal(t, "bob", (&Credential{Token: withSub}).ResolveUsername())
	assert.Equal(t, "carol", (&Credential{Token: withName}).ResolveUsername())
	assert.Equal(t, "", (&Credential{Token: "opaque"}).ResolveUsername())

	var nilCred *Credential
	assert.Equal(t, "", nilCred.ResolveUsername())
}
