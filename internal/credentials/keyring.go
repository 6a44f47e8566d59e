// Package credentials stores the bearer token for the simulation endpoint.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNoToken is returned when no token has been saved.
var ErrNoToken = errors.New("credentials: no token stored")

// KeyringStore wraps OS keychain with an optional file fallback.
// Fallback is intended for environments where no system keyring is available.
type KeyringStore struct {
	service      string
	user         string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringStore creates a keyring wrapper for one service/user entry.
func NewKeyringStore(service, user, fallbackPath string) *KeyringStore {
	if strings.TrimSpace(service) == "" {
		service = "explant"
	}
	if strings.TrimSpace(user) == "" {
		user = "simulation-endpoint"
	}
	return &KeyringStore{
		service:      service,
		user:         user,
		fallbackPath: fallbackPath,
	}
}

// Token returns the saved token, or ErrNoToken.
func (k *KeyringStore) Token() (string, error) {
	val, err := keyring.Get(k.service, k.user)
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("credentials: keyring get: %w", err)
	}

	fallback, ferr := k.getFallback()
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(ferr, ErrNoToken) || errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	return "", ferr
}

// SetToken saves token. An empty token deletes the entry.
func (k *KeyringStore) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return k.DeleteToken()
	}
	if err := keyring.Set(k.service, k.user, token); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("credentials: keyring set: %w", err)
	}
	return k.setFallback(token)
}

// DeleteToken removes the token from the keyring and the fallback file.
func (k *KeyringStore) DeleteToken() error {
	err := keyring.Delete(k.service, k.user)
	ferr := k.deleteFallback()
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("credentials: keyring delete: %w", err)
	}
	return ferr
}

// TokenSetter is implemented by clients that accept a bearer token.
type TokenSetter interface {
	SetAuthToken(token string)
}

// Apply loads the saved token into c. It reports whether a token was found.
func (k *KeyringStore) Apply(c TokenSetter) (bool, error) {
	token, err := k.Token()
	if errors.Is(err, ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.SetAuthToken(token)
	return true, nil
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "the specified item could not be found in the keychain") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

// fallbackTokens maps service/user to token.
type fallbackTokens map[string]string

func (k *KeyringStore) entry() string { return k.service + "/" + k.user }

func (k *KeyringStore) setFallback(token string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("credentials: keyring unavailable and no fallback path configured")
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	data[k.entry()] = token
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) getFallback() (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", ErrNoToken
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return "", err
	}
	token, ok := data[k.entry()]
	if !ok {
		return "", ErrNoToken
	}
	return token, nil
}

func (k *KeyringStore) deleteFallback() error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := k.readFallbackUnlocked()
	if err != nil {
		return err
	}
	if _, ok := data[k.entry()]; !ok {
		return nil
	}
	delete(data, k.entry())
	return k.writeFallbackUnlocked(data)
}

func (k *KeyringStore) readFallbackUnlocked() (fallbackTokens, error) {
	out := fallbackTokens{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("credentials: read fallback: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("credentials: decode fallback: %w", err)
	}
	return out, nil
}

func (k *KeyringStore) writeFallbackUnlocked(data fallbackTokens) error {
	if err := os.MkdirAll(filepath.Dir(k.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("credentials: encode fallback: %w", err)
	}
	if err := os.WriteFile(k.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("credentials: write fallback: %w", err)
	}
	return nil
}
