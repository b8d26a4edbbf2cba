package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Role   string
	// Method is jwt or apikey
	Method string
}

// IsAdmin reports whether the caller holds the admin role
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller identity, if the request was authenticated
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// AuthMiddleware provides HTTP middleware for authentication. Either
// manager may be nil to disable that method.
type AuthMiddleware struct {
	jwtManager    *JWTManager
	apiKeyManager *APIKeyManager
	optional      bool // If true, authentication is optional
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(jwtManager *JWTManager, apiKeyManager *APIKeyManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager:    jwtManager,
		apiKeyManager: apiKeyManager,
		optional:      optional,
	}
}

// Handler returns the HTTP middleware handler. Presented credentials must
// be valid even when authentication is optional.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			id, ok := m.authenticateJWT(strings.TrimPrefix(authHeader, "Bearer "))
			if !ok {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			id, ok := m.authenticateAPIKey(key)
			if !ok {
				unauthorized(w, "invalid or revoked API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			return
		}

		if m.optional {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w, "no valid authentication provided")
	})
}

func (m *AuthMiddleware) authenticateJWT(token string) (Identity, bool) {
	if m.jwtManager == nil {
		return Identity{}, false
	}
	claims, err := m.jwtManager.Verify(token)
	if err != nil {
		return Identity{}, false
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role, Method: "jwt"}, true
}

func (m *AuthMiddleware) authenticateAPIKey(key string) (Identity, bool) {
	if m.apiKeyManager == nil {
		return Identity{}, false
	}
	apiKey, err := m.apiKeyManager.Verify(key)
	if err != nil {
		return Identity{}, false
	}
	return Identity{UserID: apiKey.UserID, Role: apiKey.Role, Method: "apikey"}, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="affect"`)
	http.Error(w, "Unauthorized: "+msg, http.StatusUnauthorized)
}

// RequireRole is a middleware that admits callers holding any of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if ok {
				for _, role := range roles {
					if id.Role == role {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			http.Error(w, "Forbidden: Insufficient permissions", http.StatusForbidden)
		})
	}
}
