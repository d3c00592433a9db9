// Package auth implements the CSRF-protected login handshake: one-time
// persisted nonces with TTL expiry, the credential file, and the callback
// that exchanges a short-lived token for a durable API key.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	credentialsFile = "credentials"
	authStatesFile  = "auth_states.json"
	credentialKey   = "API_KEY"
)

// DefaultStateTTL bounds how long an issued login nonce stays valid.
const DefaultStateTTL = 300 * time.Second

// Store persists the API credential and the set of pending login nonces
// under a per-user config directory. Files are created on first write.
type Store struct {
	logger *zap.Logger
	dir    string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore creates a Store rooted at dir with the given nonce TTL.
func NewStore(logger *zap.Logger, dir string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Store{logger: logger, dir: dir, ttl: ttl, now: time.Now}
}

// LoadAPIKey returns the persisted API key, or "" if not logged in.
func (s *Store) LoadAPIKey() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, credentialsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, credentialKey+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, credentialKey+":")), nil
		}
	}
	return "", nil
}

// SaveAPIKey persists the API key, creating the config directory if needed.
func (s *Store) SaveAPIKey(key string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(s.dir, credentialsFile)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%s: %s\n", credentialKey, key)), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	s.logger.Info("credentials saved", zap.String("path", path))
	return nil
}

type authStates struct {
	States map[string]float64 `json:"states"`
}

// loadStates reads the persisted nonces, pruning any past the TTL.
func (s *Store) loadStates() map[string]float64 {
	data, err := os.ReadFile(filepath.Join(s.dir, authStatesFile))
	if err != nil {
		return map[string]float64{}
	}
	var parsed authStates
	if err := json.Unmarshal(data, &parsed); err != nil {
		return map[string]float64{}
	}
	now := float64(s.now().UnixNano()) / float64(time.Second)
	live := make(map[string]float64, len(parsed.States))
	for nonce, issued := range parsed.States {
		if now-issued < s.ttl.Seconds() {
			live[nonce] = issued
		}
	}
	return live
}

func (s *Store) saveStates(states map[string]float64) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.Marshal(authStates{States: states})
	if err != nil {
		return fmt.Errorf("marshal auth states: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, authStatesFile), data, 0o600); err != nil {
		return fmt.Errorf("write auth states: %w", err)
	}
	return nil
}

// AddAuthState persists a freshly issued nonce with the current timestamp.
func (s *Store) AddAuthState(nonce string) error {
	states := s.loadStates()
	states[nonce] = float64(s.now().UnixNano()) / float64(time.Second)
	return s.saveStates(states)
}

// IsValidAndConsume reports whether the nonce is known and unexpired, and
// deletes it so validation is strictly single-use.
func (s *Store) IsValidAndConsume(nonce string) bool {
	if nonce == "" {
		return false
	}
	states := s.loadStates()
	if _, ok := states[nonce]; !ok {
		return false
	}
	delete(states, nonce)
	if err := s.saveStates(states); err != nil {
		s.logger.Warn("failed to persist consumed auth state", zap.Error(err))
	}
	return true
}
