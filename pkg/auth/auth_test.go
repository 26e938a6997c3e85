package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func signHS256(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateHS256(t *testing.T) {
	a, err := NewAuthenticator(Config{Mode: ModeJWT, HS256Secret: "test-secret"})
	require.NoError(t, err)

	token := signHS256(t, "test-secret", Claims{
		OwnerID: "owner-1",
		Roles:   []string{models.RoleEmitter, models.RoleSubscriber},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	id, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", id.OwnerID)
	assert.Equal(t, "agent-1", id.AgentID)
	assert.True(t, id.HasRole(models.RoleEmitter))
	assert.False(t, id.IsCurator())
}

func TestAuthenticateRejections(t *testing.T) {
	a, err := NewAuthenticator(Config{Mode: ModeJWT, HS256Secret: "test-secret"})
	require.NoError(t, err)

	valid := jwt.RegisteredClaims{
		Subject:   "agent-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"missing bearer prefix", "Token abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signHS256(t, "other-secret", Claims{OwnerID: "o", RegisteredClaims: valid})},
		{"expired", "Bearer " + signHS256(t, "test-secret", Claims{
			OwnerID: "o",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "agent-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})},
		{"missing owner_id", "Bearer " + signHS256(t, "test-secret", Claims{RegisteredClaims: valid})},
		{"missing subject", "Bearer " + signHS256(t, "test-secret", Claims{
			OwnerID: "o",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.header)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestDisabledModeGrantsAllRoles(t *testing.T) {
	a, err := NewAuthenticator(Config{Mode: ModeDisabled, DevOwnerID: "owner-1", DevAgentID: "agent-1"})
	require.NoError(t, err)

	// Disabled mode ignores the header entirely.
	id, err := a.Authenticate("")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", id.OwnerID)
	assert.True(t, id.IsCurator())
}

func TestNewAuthenticatorConfigErrors(t *testing.T) {
	_, err := NewAuthenticator(Config{Mode: ModeDisabled})
	assert.Error(t, err)

	_, err = NewAuthenticator(Config{Mode: ModeJWT})
	assert.Error(t, err)

	_, err = NewAuthenticator(Config{Mode: "basic"})
	assert.Error(t, err)
}
