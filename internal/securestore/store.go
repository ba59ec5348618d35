// Package securestore provides encrypted-at-rest persistence for the
// client's credentials: the token bundle, the user identity, and a handful
// of small keyed secrets (session id, device id, biometric opt-in flag).
// Values are sealed with AES-GCM before they touch SQLite; the encryption
// key is derived from a passphrase with PBKDF2.
package securestore

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrNoExistingTokens is returned by UpdateAccessToken when there is no
	// stored bundle to update.
	ErrNoExistingTokens = errors.New("no existing tokens to update")

	// ErrStaleGeneration is returned when a write carries a generation that
	// predates a Clear. It means the session was torn down while the write
	// was in flight; the result must be discarded, not retried.
	ErrStaleGeneration = errors.New("secure store generation has advanced")
)

// Storage keys. Every value under these keys is encrypted.
const (
	keyTokenBundle  = "token_bundle"
	keyUserIdentity = "user_identity"
	keySessionID    = "session_id"
	keyDeviceID     = "device_id"
	keyBiometric    = "biometric_enabled"
)

// metaSaltKey is the plaintext meta row holding the KDF salt.
const metaSaltKey = "kdf_salt"

// Store is the secure credential store. All exported methods are safe for
// concurrent use; the refresh coordinator additionally serializes
// read-modify-write access to the token bundle.
type Store struct {
	db  *sql.DB
	key []byte

	mu  sync.RWMutex
	gen uint64
}

// Open opens (creating if necessary) the secure store at dbPath and derives
// the encryption key from passphrase. The KDF salt is created on first open
// and persisted in a plaintext meta row.
func Open(dbPath, passphrase string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Only effective once the file exists; ignore if it doesn't yet.
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not restrict secure store permissions")
	}

	s := &Store{db: db}
	if err := s.init(passphrase); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(passphrase string) error {
	itemsQuery := `
	CREATE TABLE IF NOT EXISTS secure_items (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(itemsQuery); err != nil {
		return fmt.Errorf("failed to create secure_items table: %w", err)
	}

	metaQuery := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(metaQuery); err != nil {
		return fmt.Errorf("failed to create store_meta table: %w", err)
	}

	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return err
	}
	s.key = deriveKey(passphrase, salt)
	return nil
}

func (s *Store) loadOrCreateSalt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow(
		"SELECT value FROM store_meta WHERE key = ?", metaSaltKey,
	).Scan(&encoded)

	switch {
	case err == sql.ErrNoRows:
		salt, err := newSalt()
		if err != nil {
			return nil, err
		}
		_, err = s.db.Exec(
			"INSERT INTO store_meta (key, value) VALUES (?, ?)",
			metaSaltKey, base64.StdEncoding.EncodeToString(salt),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to persist KDF salt: %w", err)
		}
		return salt, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read KDF salt: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt KDF salt: %w", err)
	}
	return salt, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Generation returns the current logout generation. Callers that perform a
// long-running operation ending in a credential write snapshot this first
// and pass it back with the write, so a logout in between voids the write.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// setItem encrypts and upserts a value. The caller holds no lock; the
// per-statement lock is enough because values are whole-blob writes.
func (s *Store) setItem(key string, plaintext []byte) error {
	sealed, err := encrypt(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO secure_items (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, sealed)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// getItem reads and decrypts a value. Returns nil, nil when the key is
// absent.
func (s *Store) getItem(key string) ([]byte, error) {
	var sealed string
	err := s.db.QueryRow(
		"SELECT value FROM secure_items WHERE key = ?", key,
	).Scan(&sealed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", key, err)
	}

	plaintext, err := decrypt(sealed, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

func (s *Store) deleteItem(key string) error {
	_, err := s.db.Exec("DELETE FROM secure_items WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
