package securestore

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// legacySession is the pre-secure-storage plaintext session file format.
// Earlier client versions kept it in the config directory as session.json.
type legacySession struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	AccessTokenExpiresAt  string `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt string `json:"refreshTokenExpiresAt"`
	User                  *struct {
		PublicID    string `json:"publicId"`
		Role        string `json:"role"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	} `json:"user"`
}

// MigrateFromLegacyFile imports credentials from the old plaintext session
// file into the secure store and deletes the file. It is idempotent: if a
// secure bundle already exists it does nothing and returns true. Returns
// false when there is nothing to migrate (no file, unreadable file, or no
// usable token pair). Only secure-store write failures are returned as
// errors.
func (s *Store) MigrateFromLegacyFile(path string) (bool, error) {
	if s.GetTokens() != nil {
		return true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("could not read legacy session file")
		}
		return false, nil
	}

	var legacy legacySession
	if err := json.Unmarshal(data, &legacy); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("legacy session file is not valid JSON")
		return false, nil
	}

	if legacy.AccessToken == "" || legacy.RefreshToken == "" {
		return false, nil
	}

	bundle := &TokenBundle{
		AccessToken:           legacy.AccessToken,
		RefreshToken:          legacy.RefreshToken,
		AccessTokenExpiresAt:  parseLegacyTime(legacy.AccessTokenExpiresAt),
		RefreshTokenExpiresAt: parseLegacyTime(legacy.RefreshTokenExpiresAt),
	}
	if err := s.StoreTokens(bundle); err != nil {
		return false, err
	}

	if legacy.User != nil && legacy.User.PublicID != "" {
		user := &UserIdentity{
			PublicID:    legacy.User.PublicID,
			Role:        legacy.User.Role,
			DisplayName: legacy.User.DisplayName,
			AvatarURL:   legacy.User.AvatarURL,
		}
		if err := s.StoreUser(user); err != nil {
			return false, err
		}
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not delete legacy session file")
	}

	log.Info().Str("path", path).Msg("migrated legacy session into secure store")
	return true, nil
}

// parseLegacyTime parses the legacy file's timestamps. A zero time is fine;
// the staleness check treats it as already expired.
func parseLegacyTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		log.Warn().Str("value", value).Msg("unparseable legacy timestamp")
		return time.Time{}
	}
	return t
}
