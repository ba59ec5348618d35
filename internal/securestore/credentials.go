package securestore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TokenBundle is the persisted credential set for one session. The access
// and refresh expiries are independent deadlines; nothing enforces an
// ordering between them.
type TokenBundle struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	StoredAt              time.Time `json:"stored_at"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
}

// UserIdentity is the signed-in user's profile as returned by login. It is
// written once per login and never touched by the refresh flow.
type UserIdentity struct {
	PublicID    string `json:"public_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// StoreTokens persists a complete bundle with a fresh StoredAt, overwriting
// any existing one. Write failures propagate: a login or refresh that
// cannot persist its result must fail loudly, not continue on a token that
// will be gone after restart.
func (s *Store) StoreTokens(bundle *TokenBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle.StoredAt = time.Now()
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return s.setItem(keyTokenBundle, data)
}

// GetTokens returns the stored bundle, or nil when absent. Read and decrypt
// failures are logged and reported as nil: for every caller "cannot read
// credentials" and "no credentials" mean the same thing, not authenticated.
func (s *Store) GetTokens() *TokenBundle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.getItem(keyTokenBundle)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read token bundle, treating as absent")
		return nil
	}
	if data == nil {
		return nil
	}

	var bundle TokenBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		log.Warn().Err(err).Msg("corrupt token bundle, treating as absent")
		return nil
	}
	return &bundle
}

// UpdateAccessToken rewrites the stored bundle with a new access token and
// expiry, leaving the refresh token untouched. gen must be the value of
// Generation observed before the refresh began; if Clear ran in between the
// write is rejected with ErrStaleGeneration so a late refresh cannot
// resurrect a logged-out session. Returns ErrNoExistingTokens when there is
// no bundle to update.
//
// This is a read-modify-write, not an atomic field update. It is only safe
// because the refresh coordinator funnels all refreshes through a single
// flight; no other component may call it.
func (s *Store) UpdateAccessToken(gen uint64, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return ErrStaleGeneration
	}

	data, err := s.getItem(keyTokenBundle)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNoExistingTokens
	}

	var bundle TokenBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return err
	}

	bundle.AccessToken = accessToken
	bundle.AccessTokenExpiresAt = expiresAt
	bundle.UpdatedAt = time.Now()

	updated, err := json.Marshal(&bundle)
	if err != nil {
		return err
	}
	return s.setItem(keyTokenBundle, updated)
}

// StoreUser persists the user identity under its own key.
func (s *Store) StoreUser(user *UserIdentity) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.setItem(keyUserIdentity, data)
}

// GetUser returns the stored identity, or nil when absent or unreadable.
func (s *Store) GetUser() *UserIdentity {
	data, err := s.getItem(keyUserIdentity)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read user identity, treating as absent")
		return nil
	}
	if data == nil {
		return nil
	}

	var user UserIdentity
	if err := json.Unmarshal(data, &user); err != nil {
		log.Warn().Err(err).Msg("corrupt user identity, treating as absent")
		return nil
	}
	return &user
}

// Clear erases the token bundle, user identity, and session id, and bumps
// the logout generation. It never fails: logout must proceed no matter
// what, so each erase is attempted independently and the result only
// reports whether all of them succeeded.
func (s *Store) Clear() bool {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()

	ok := true
	for _, key := range []string{keyTokenBundle, keyUserIdentity, keySessionID} {
		if err := s.deleteItem(key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to erase secure item")
			ok = false
		}
	}
	return ok
}

// SetSessionID stores the server-side session id used for remote
// invalidation at logout.
func (s *Store) SetSessionID(id string) error {
	return s.setItem(keySessionID, []byte(id))
}

// SessionID returns the stored session id, or "" when absent.
func (s *Store) SessionID() string {
	data, err := s.getItem(keySessionID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session id")
		return ""
	}
	return string(data)
}

// DeviceID returns the stable per-install device id, generating and
// persisting one on first use.
func (s *Store) DeviceID() (string, error) {
	data, err := s.getItem(keyDeviceID)
	if err != nil {
		return "", err
	}
	if data != nil {
		return string(data), nil
	}

	id := uuid.NewString()
	if err := s.setItem(keyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// SetBiometricEnabled sets or clears the biometric opt-in flag. The flag is
// independent of the token bundle and survives refreshes, but logout clears
// it.
func (s *Store) SetBiometricEnabled(enabled bool) error {
	if !enabled {
		return s.deleteItem(keyBiometric)
	}
	return s.setItem(keyBiometric, []byte("1"))
}

// BiometricEnabled reports the biometric opt-in flag. Read failures count
// as disabled.
func (s *Store) BiometricEnabled() bool {
	data, err := s.getItem(keyBiometric)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read biometric flag")
		return false
	}
	return string(data) == "1"
}
