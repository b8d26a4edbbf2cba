package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(t *testing.T, check func(id Identity, ok bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if check != nil {
			check(id, ok)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func forbidden(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
}

func serve(h http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthMiddleware_JWT_Valid(t *testing.T) {
	jwtManager := NewJWTManager("test-secret", time.Hour)
	middleware := NewAuthMiddleware(jwtManager, NewAPIKeyManager(), false)

	token, err := jwtManager.Generate("user123", "user@example.com", RoleAdmin)
	require.NoError(t, err)

	rr := serve(middleware.Handler(okHandler(t, func(id Identity, ok bool) {
		assert.True(t, ok)
		assert.Equal(t, Identity{UserID: "user123", Email: "user@example.com", Role: RoleAdmin, Method: "jwt"}, id)
		assert.True(t, id.IsAdmin())
	})), "Authorization", "Bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_APIKey_Valid(t *testing.T) {
	apiKeyManager := NewAPIKeyManager()
	middleware := NewAuthMiddleware(nil, apiKeyManager, false)

	apiKey, err := apiKeyManager.Generate("user456", "Test Key", RoleSubmitter, nil)
	require.NoError(t, err)

	rr := serve(middleware.Handler(okHandler(t, func(id Identity, ok bool) {
		assert.True(t, ok)
		assert.Equal(t, "user456", id.UserID)
		assert.Equal(t, RoleSubmitter, id.Role)
		assert.Equal(t, "apikey", id.Method)
	})), "X-API-Key", apiKey.Key)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	jwtManager := NewJWTManager("test-secret", time.Hour)
	apiKeyManager := NewAPIKeyManager()
	wrongSecret, err := NewJWTManager("other-secret", time.Hour).Generate("user123", "", RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name     string
		jwt      *JWTManager
		optional bool
		header   string
		value    string
	}{
		{"invalid token", jwtManager, false, "Authorization", "Bearer invalid-token"},
		{"wrong secret", jwtManager, false, "Authorization", "Bearer " + wrongSecret},
		{"invalid api key", jwtManager, false, "X-API-Key", "invalid-key"},
		{"no credentials", jwtManager, false, "", ""},
		{"jwt disabled", nil, false, "Authorization", "Bearer " + wrongSecret},
		{"bad credentials even when optional", jwtManager, true, "X-API-Key", "invalid-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := NewAuthMiddleware(tt.jwt, apiKeyManager, tt.optional)
			rr := serve(middleware.Handler(forbidden(t)), tt.header, tt.value)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuthMiddleware_NoAuth_Optional(t *testing.T) {
	middleware := NewAuthMiddleware(NewJWTManager("test-secret", time.Hour), NewAPIKeyManager(), true)

	rr := serve(middleware.Handler(okHandler(t, func(id Identity, ok bool) {
		assert.False(t, ok)
		assert.Empty(t, id.UserID)
	})), "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireRole(t *testing.T) {
	jwtManager := NewJWTManager("test-secret", time.Hour)
	authMiddleware := NewAuthMiddleware(jwtManager, NewAPIKeyManager(), false)

	handler := authMiddleware.Handler(RequireRole(RoleAdmin, RoleSubmitter)(okHandler(t, nil)))

	tests := []struct {
		role string
		want int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleSubmitter, http.StatusOK},
		{RoleViewer, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, err := jwtManager.Generate("u-"+tt.role, "", tt.role)
			require.NoError(t, err)
			rr := serve(handler, "Authorization", "Bearer "+token)
			assert.Equal(t, tt.want, rr.Code)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		rr := serve(RequireRole(RoleAdmin)(forbidden(t)), "", "")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
