package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mfcabral/streambridge/internal/api"
	"github.com/mfcabral/streambridge/internal/metrics"
	"github.com/mfcabral/streambridge/internal/session"
)

var (
	// ErrNoToken means the callback arrived without a login token.
	ErrNoToken = errors.New("no token received")
	// ErrInvalidState means the CSRF nonce failed the consumption check.
	ErrInvalidState = errors.New("invalid state parameter")
)

// Flow drives the browser login handshake.
type Flow struct {
	logger   *zap.Logger
	store    *Store
	client   *api.Client
	machine  *session.Machine
	loginURL string
	authPort int

	mu      sync.Mutex
	pending bool
}

// NewFlow creates a Flow. loginURL is the remote sign-in page; authPort is
// the local callback listener's port, embedded in the redirect.
func NewFlow(logger *zap.Logger, store *Store, client *api.Client, machine *session.Machine, loginURL string, authPort int) *Flow {
	return &Flow{
		logger:   logger,
		store:    store,
		client:   client,
		machine:  machine,
		loginURL: loginURL,
		authPort: authPort,
	}
}

// Pending reports whether a login handshake is awaiting its callback.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Flow) setPending(v bool) {
	f.mu.Lock()
	f.pending = v
	f.mu.Unlock()
}

// BeginLogin issues a fresh CSRF nonce, persists it, and returns the browser
// URL the host should open.
func (f *Flow) BeginLogin() (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", fmt.Errorf("generate login nonce: %w", err)
	}
	if err := f.store.AddAuthState(nonce); err != nil {
		return "", fmt.Errorf("persist login nonce: %w", err)
	}
	f.setPending(true)

	url := fmt.Sprintf("%s?port=%d&state=%s", f.loginURL, f.authPort, nonce)
	f.logger.Info("login started", zap.Int("authPort", f.authPort))
	f.machine.Emit("login_started", map[string]any{"auth_port": f.authPort})
	return url, nil
}

// HandleCallback validates the callback's token and nonce, exchanges the
// token for a durable API key, and persists it. The pending flag is always
// cleared, on every path, so the host UI can never get stuck.
func (f *Flow) HandleCallback(ctx context.Context, token, state string) error {
	defer f.setPending(false)

	if token == "" {
		f.fail(ErrNoToken)
		return ErrNoToken
	}
	if !f.store.IsValidAndConsume(state) {
		f.fail(ErrInvalidState)
		return ErrInvalidState
	}

	apiKey, err := f.client.CreateAPIKey(ctx, token)
	if err != nil {
		f.fail(err)
		return fmt.Errorf("exchange login token: %w", err)
	}

	if err := f.store.SaveAPIKey(apiKey); err != nil {
		f.fail(err)
		return err
	}
	f.client.SetToken(apiKey)

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	f.logger.Info("login successful")
	f.machine.Do(func() {
		f.machine.Emit("login_success", map[string]any{})
	})
	return nil
}

func (f *Flow) fail(err error) {
	metrics.LoginsTotal.WithLabelValues("error").Inc()
	f.logger.Warn("login failed", zap.Error(err))
	f.machine.Emit("login_failed", map[string]any{"error": err.Error()})
	f.machine.Emit("error", map[string]any{"error": err.Error(), "context": "login"})
}

// newNonce returns a high-entropy URL-safe nonce (16 random bytes).
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
