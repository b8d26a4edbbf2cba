package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "affect-test-secret"

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager(secret, time.Hour)

	for _, role := range []string{RoleAdmin, RoleSubmitter, RoleViewer} {
		t.Run(role, func(t *testing.T) {
			token, err := m.Generate("render-bot", "bot@studio.test", role)
			require.NoError(t, err)

			claims, err := m.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, "render-bot", claims.UserID)
			assert.Equal(t, "render-bot", claims.Subject)
			assert.Equal(t, "bot@studio.test", claims.Email)
			assert.Equal(t, role, claims.Role)
			assert.Equal(t, DefaultIssuer, claims.Issuer)
		})
	}
}

// sign builds a token outside the manager so individual claims can be broken
func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestJWTManager_Verify_Rejects(t *testing.T) {
	m := NewJWTManager(secret, time.Hour)
	valid := func() *Claims {
		return &Claims{
			UserID: "render-bot",
			Role:   RoleSubmitter,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    DefaultIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	foreign := valid()
	foreign.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.token"},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other-secret"), valid())},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(secret), expired)},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte(secret), noExpiry)},
		{"foreign issuer", sign(t, jwt.SigningMethodHS256, []byte(secret), foreign)},
		{"alg none", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorContains(t, err, "invalid token")
		})
	}
}

func TestJWTManager_WithIssuer(t *testing.T) {
	studio := NewJWTManager(secret, time.Hour, WithIssuer("studio"))
	token, err := studio.Generate("editor", "", RoleViewer)
	require.NoError(t, err)

	claims, err := studio.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "studio", claims.Issuer)

	_, err = NewJWTManager(secret, time.Hour).Verify(token)
	assert.Error(t, err)
}

func TestJWTManager_Refresh(t *testing.T) {
	m := NewJWTManager(secret, time.Hour)
	token, err := m.Generate("render-bot", "bot@studio.test", RoleSubmitter)
	require.NoError(t, err)

	refreshed, err := m.Refresh(token)
	require.NoError(t, err)
	claims, err := m.Verify(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "render-bot", claims.UserID)
	assert.Equal(t, RoleSubmitter, claims.Role)

	_, err = m.Refresh("not.a.token")
	assert.Error(t, err)
}

func TestJWTManager_Generate_RequiresUser(t *testing.T) {
	_, err := NewJWTManager(secret, time.Hour).Generate("", "", RoleViewer)
	assert.Error(t, err)
}
