// Package auth authenticates API requests with JWT bearer tokens or API
// keys.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the API
const (
	// RoleAdmin may see and cancel every job
	RoleAdmin = "admin"
	// RoleSubmitter may compile programs and manage its own jobs
	RoleSubmitter = "submitter"
	// RoleViewer may only read
	RoleViewer = "viewer"
)

// DefaultIssuer is the iss claim of generated tokens
const DefaultIssuer = "affect"

// Claims are the token claims
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies HS256 tokens
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// JWTOption configures a JWTManager
type JWTOption func(*JWTManager)

// WithIssuer sets the issuer written to and required from tokens
func WithIssuer(iss string) JWTOption {
	return func(m *JWTManager) {
		m.issuer = iss
	}
}

// NewJWTManager creates a manager whose tokens live for ttl
func NewJWTManager(secret string, ttl time.Duration, opts ...JWTOption) *JWTManager {
	m := &JWTManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: DefaultIssuer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate issues a token for a user
func (m *JWTManager) Generate(userID, email, role string) (string, error) {
	if userID == "" {
		return "", errors.New("user ID is required")
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature, issuer and lifetime
func (m *JWTManager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Refresh issues a new token carrying the identity of a valid one
func (m *JWTManager) Refresh(token string) (string, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return "", err
	}
	return m.Generate(claims.UserID, claims.Email, claims.Role)
}
