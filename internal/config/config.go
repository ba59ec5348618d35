// Package config loads client configuration from the environment, with an
// optional config.env file in the user's config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/pc29564530/khelogames-client/internal/refresh"
)

const (
	AppName     = "khelogames-client"
	EnvFileName = "config.env"

	// LegacySessionFileName is the pre-secure-storage plaintext session
	// file migrated on startup.
	LegacySessionFileName = "session.json"
)

// Config holds everything the client needs to run.
type Config struct {
	// APIBaseURL is the Khelogames backend base URL.
	APIBaseURL string

	// DBPath is the secure store's SQLite file.
	DBPath string

	// StorePassphrase derives the at-rest encryption key.
	StorePassphrase string

	// RefreshBuffer is how far ahead of expiry tokens are refreshed.
	RefreshBuffer time.Duration

	// LegacySessionPath is the old plaintext session file, if any.
	LegacySessionPath string
}

// LoadEnvFile loads environment variables from the config file in the
// user's config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// ConfigDir returns the application's config directory, creating it if
// needed.
func ConfigDir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	dir := filepath.Join(configBase, AppName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// FromEnv builds a Config from environment variables. KHELO_STORE_KEY is
// required; everything else has a default.
func FromEnv() (*Config, error) {
	passphrase := os.Getenv("KHELO_STORE_KEY")
	if passphrase == "" {
		return nil, fmt.Errorf("KHELO_STORE_KEY is not set")
	}

	cfg := &Config{
		APIBaseURL:      os.Getenv("KHELO_API_URL"),
		DBPath:          os.Getenv("KHELO_DB_PATH"),
		StorePassphrase: passphrase,
		RefreshBuffer:   refresh.DefaultBuffer,
	}

	if raw := os.Getenv("KHELO_REFRESH_BUFFER"); raw != "" {
		buffer, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("KHELO_REFRESH_BUFFER must be a duration: %w", err)
		}
		cfg.RefreshBuffer = buffer
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(configDir, "secrets.db")
	}
	cfg.LegacySessionPath = filepath.Join(configDir, LegacySessionFileName)

	return cfg, nil
}
