package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// tokenPrefix identifies profileboard tokens when pasted into clients.
const tokenPrefix = "pb_"

// tokensFileVersion is the schema version written to tokens.yaml.
const tokensFileVersion = "1"

// TokenStore manages dashboard tokens with in-memory caching and file
// persistence.
type TokenStore struct {
	mu       sync.RWMutex
	tokens   map[string]*Token // tokenID -> token
	filePath string            // path to tokens.yaml, empty for memory-only
}

// NewTokenStore creates a new token store.
// If filePath is provided, tokens are loaded from and persisted to that file.
func NewTokenStore(filePath string) *TokenStore {
	ts := &TokenStore{
		tokens:   make(map[string]*Token),
		filePath: filePath,
	}

	if filePath != "" {
		_ = ts.loadFromFile()
	}

	return ts
}

// GenerateToken creates a new token with the given ID and permissions.
// Returns the token info including the plaintext token (shown only once).
func (ts *TokenStore) GenerateToken(tokenID string, permissions []Permission) (*TokenInfo, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token ID must not be empty")
	}
	if len(permissions) == 0 {
		return nil, fmt.Errorf("token must carry at least one permission")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tokens[tokenID]; exists {
		return nil, fmt.Errorf("token with ID %q already exists", tokenID)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	plainToken := base64.RawURLEncoding.EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash token: %w", err)
	}

	stored := &Token{
		TokenID:     tokenID,
		TokenHash:   string(hash),
		Permissions: permissions,
		CreatedAt:   time.Now(),
	}

	ts.tokens[tokenID] = stored

	if err := ts.saveToFile(); err != nil {
		delete(ts.tokens, tokenID)
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	return &TokenInfo{
		TokenID:     tokenID,
		Token:       tokenPrefix + plainToken,
		Permissions: permissions,
	}, nil
}

// ValidateToken checks a bearer token and returns the stored token if valid.
// The token may include the "pb_" prefix.
func (ts *TokenStore) ValidateToken(token string) (*Token, error) {
	plainToken := strings.TrimPrefix(token, tokenPrefix)

	ts.mu.RLock()
	// O(n) over all tokens; the set is operator-managed and small.
	var matched *Token
	for _, stored := range ts.tokens {
		if stored.Revoked {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(stored.TokenHash), []byte(plainToken)); err == nil {
			matched = stored
			break
		}
	}
	ts.mu.RUnlock()

	if matched == nil {
		return nil, fmt.Errorf("invalid token")
	}

	ts.updateLastUsed(matched.TokenID)
	return matched, nil
}

// GetToken returns a token by ID (without validation).
func (ts *TokenStore) GetToken(tokenID string) (*Token, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	token, exists := ts.tokens[tokenID]
	return token, exists
}

// ListTokens returns all non-revoked tokens.
func (ts *TokenStore) ListTokens() []*Token {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	result := make([]*Token, 0, len(ts.tokens))
	for _, t := range ts.tokens {
		if !t.Revoked {
			result = append(result, t)
		}
	}
	return result
}

// RevokeToken marks a token as revoked.
func (ts *TokenStore) RevokeToken(tokenID string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	token, exists := ts.tokens[tokenID]
	if !exists {
		return fmt.Errorf("token with ID %q not found", tokenID)
	}

	token.Revoked = true

	if err := ts.saveToFile(); err != nil {
		token.Revoked = false
		return fmt.Errorf("failed to persist token revocation: %w", err)
	}

	return nil
}

// updateLastUsed updates the last used timestamp for a token.
func (ts *TokenStore) updateLastUsed(tokenID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if token, exists := ts.tokens[tokenID]; exists {
		now := time.Now()
		token.LastUsedAt = &now
		// Best effort persistence.
		_ = ts.saveToFile()
	}
}

// loadFromFile loads tokens from the YAML file.
func (ts *TokenStore) loadFromFile() error {
	data, err := os.ReadFile(ts.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tokens file: %w", err)
	}

	var tokensFile TokensFile
	if err := yaml.Unmarshal(data, &tokensFile); err != nil {
		return fmt.Errorf("failed to parse tokens file: %w", err)
	}

	for i := range tokensFile.Tokens {
		t := tokensFile.Tokens[i]
		ts.tokens[t.TokenID] = &t
	}

	return nil
}

// saveToFile persists tokens to the YAML file. Callers must hold ts.mu.
func (ts *TokenStore) saveToFile() error {
	if ts.filePath == "" {
		return nil
	}

	tokensFile := TokensFile{Version: tokensFileVersion}
	for _, t := range ts.tokens {
		tokensFile.Tokens = append(tokensFile.Tokens, *t)
	}

	data, err := yaml.Marshal(&tokensFile)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ts.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create tokens directory: %w", err)
	}

	if err := os.WriteFile(ts.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write tokens file: %w", err)
	}

	return nil
}
