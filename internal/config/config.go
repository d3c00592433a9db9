package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the bridge configuration.
type Config struct {
	// Remote service.
	APIBaseURL string

	// Listeners.
	StatusAddr string
	SDPAddr    string
	AuthAddr   string

	// Login handshake.
	LoginURL        string
	LoginSuccessURL string

	// Local state directory (credential + auth-state files).
	ConfigDir string

	// Tuning.
	DebounceDelay time.Duration
	WorkerPool    int
	AuthStateTTL  time.Duration

	// Whether an input source is wired up at start. The media pipeline is an
	// external collaborator; this flag stands in for its readiness probe.
	SourceReady bool
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	dir := os.Getenv("BRIDGE_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".streambridge")
	}

	return &Config{
		APIBaseURL:      getEnv("BRIDGE_API_URL", "https://api.daydream.live/v1"),
		StatusAddr:      getEnv("BRIDGE_STATUS_ADDR", ":8090"),
		SDPAddr:         getEnv("BRIDGE_SDP_ADDR", ":8091"),
		AuthAddr:        getEnv("BRIDGE_AUTH_ADDR", ":8092"),
		LoginURL:        getEnv("BRIDGE_LOGIN_URL", "https://app.daydream.live/sign-in/local"),
		LoginSuccessURL: getEnv("BRIDGE_LOGIN_SUCCESS_URL", "https://app.daydream.live/sign-in/local/success"),
		ConfigDir:       dir,
		DebounceDelay:   getEnvDuration("BRIDGE_DEBOUNCE_MS", 100) * time.Millisecond,
		WorkerPool:      getEnvInt("BRIDGE_WORKERS", 4),
		AuthStateTTL:    getEnvDuration("BRIDGE_AUTH_STATE_TTL_SEC", 300) * time.Second,
		SourceReady:     getEnvBool("BRIDGE_SOURCE_READY", true),
	}, nil
}

// AuthPort returns the port number of the auth callback listener, used to
// build the login redirect URL.
func (c *Config) AuthPort() (int, error) {
	_, port, err := net.SplitHostPort(c.AuthAddr)
	if err != nil {
		return 0, fmt.Errorf("parse auth addr %q: %w", c.AuthAddr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("parse auth port %q: %w", port, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback))
}
