package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// KeyPrefix starts every generated API key
const KeyPrefix = "affk_"

// APIKey represents an API key
type APIKey struct {
	Key       string     `json:"key"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"` // Friendly name for the key
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// APIKeyManager manages API keys
type APIKeyManager struct {
	keys map[string]*APIKey // key -> APIKey
	mu   sync.RWMutex
}

// NewAPIKeyManager creates a new API key manager
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		keys: make(map[string]*APIKey),
	}
}

// Generate creates a new API key
func (m *APIKeyManager) Generate(userID, name, role string, expiresAt *time.Time) (*APIKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	return m.Register(KeyPrefix+base64.RawURLEncoding.EncodeToString(keyBytes), userID, name, role, expiresAt)
}

// Register adds a key chosen by the operator
func (m *APIKeyManager) Register(key, userID, name, role string, expiresAt *time.Time) (*APIKey, error) {
	if key == "" || userID == "" {
		return nil, errors.New("key and user ID are required")
	}

	apiKey := &APIKey{
		Key:       key,
		UserID:    userID,
		Name:      name,
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return nil, errors.New("API key already registered")
	}
	m.keys[key] = apiKey
	return apiKey, nil
}

// LoadKeys registers configured keys. Each entry is "user:role:key",
// "user:key" or a bare key; the role defaults to submitter and the user to
// "api".
func (m *APIKeyManager) LoadKeys(entries []string) error {
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, role, key := "api", RoleSubmitter, entry
		switch parts := strings.SplitN(entry, ":", 3); len(parts) {
		case 2:
			user, key = parts[0], parts[1]
		case 3:
			user, role, key = parts[0], parts[1], parts[2]
		}
		if _, err := m.Register(key, user, fmt.Sprintf("configured-%d", i+1), role, nil); err != nil {
			return fmt.Errorf("api key %d: %w", i+1, err)
		}
	}
	return nil
}

// Verify checks if an API key is valid
func (m *APIKeyManager) Verify(key string) (*APIKey, error) {
	m.mu.RLock()
	apiKey, exists := m.keys[key]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid API key")
	}

	if apiKey.Revoked {
		return nil, fmt.Errorf("API key has been revoked")
	}

	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, fmt.Errorf("API key has expired")
	}

	return apiKey, nil
}

// Revoke marks an API key as revoked
func (m *APIKeyManager) Revoke(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	apiKey, exists := m.keys[key]
	if !exists {
		return fmt.Errorf("API key not found")
	}

	apiKey.Revoked = true
	return nil
}

// Delete removes an API key
func (m *APIKeyManager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key]; !exists {
		return fmt.Errorf("API key not found")
	}

	delete(m.keys, key)
	return nil
}

// List returns all API keys for a user, oldest first
func (m *APIKeyManager) List(userID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*APIKey
	for _, apiKey := range m.keys {
		if apiKey.UserID == userID {
			keys = append(keys, apiKey)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys
}

// Count returns the total number of active keys
func (m *APIKeyManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, apiKey := range m.keys {
		if !apiKey.Revoked {
			count++
		}
	}

	return count
}
