// Package credential obtains and stores the OAuth2 token used to call the
// Gmail API.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	// ServiceName is the keyring service the token is stored under.
	ServiceName = "gmail-analyzer"

	tokenKey = "gmail-oauth-token"
)

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("no stored token")

// TokenStore persists a single OAuth2 token.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Delete() error
}

// KeyringConfig configures the keyring backend.
type KeyringConfig struct {
	// FileDir is used by the encrypted file backend when no OS keyring is
	// available.
	FileDir string

	// FilePassword unlocks the file backend.
	FilePassword string
}

// DefaultKeyringConfig returns the default keyring configuration.
func DefaultKeyringConfig() KeyringConfig {
	return KeyringConfig{
		FileDir:      "~/.config/gmail-analyzer/credentials",
		FilePassword: "gmail-analyzer-file-key",
	}
}

// KeyringStore keeps the token in the OS keyring, falling back to an
// encrypted file.
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring.
func OpenKeyring(cfg KeyringConfig) (*KeyringStore, error) {
	def := DefaultKeyringConfig()
	if cfg.FileDir == "" {
		cfg.FileDir = def.FileDir
	}
	if cfg.FilePassword == "" {
		cfg.FilePassword = def.FilePassword
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Load returns the stored token or ErrNoToken.
func (s *KeyringStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", tokenKey, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", tokenKey, err)
	}
	return &tok, nil
}

// Save stores tok, replacing any previous token.
func (s *KeyringStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", tokenKey, err)
	}

	err = s.ring.Set(keyring.Item{
		Key:         tokenKey,
		Data:        data,
		Label:       "Gmail Analyzer OAuth token",
		Description: "OAuth2 token for read-only Gmail access",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}
	return nil
}

// Delete removes the stored token. Deleting a missing token is not an error.
func (s *KeyringStore) Delete() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", tokenKey, err)
	}
	return nil
}
