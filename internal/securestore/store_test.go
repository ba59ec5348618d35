package securestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "secrets.db"), "test-passphrase")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testBundle() *TokenBundle {
	return &TokenBundle{
		AccessToken:           "access-1",
		RefreshToken:          "refresh-1",
		AccessTokenExpiresAt:  time.Now().Add(15 * time.Minute).UTC(),
		RefreshTokenExpiresAt: time.Now().Add(30 * 24 * time.Hour).UTC(),
	}
}

func TestStoreAndGetTokens(t *testing.T) {
	store := openTestStore(t)

	assert.Nil(t, store.GetTokens())

	bundle := testBundle()
	require.NoError(t, store.StoreTokens(bundle))
	assert.False(t, bundle.StoredAt.IsZero())

	got := store.GetTokens()
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.WithinDuration(t, bundle.AccessTokenExpiresAt, got.AccessTokenExpiresAt, time.Second)
}

func TestStoreTokensOverwrites(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.StoreTokens(testBundle()))

	second := testBundle()
	second.AccessToken = "access-2"
	require.NoError(t, store.StoreTokens(second))

	got := store.GetTokens()
	require.NotNil(t, got)
	assert.Equal(t, "access-2", got.AccessToken)
}

func TestUpdateAccessToken(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.StoreTokens(testBundle()))

	gen := store.Generation()
	newExpiry := time.Now().Add(time.Hour).UTC()
	require.NoError(t, store.UpdateAccessToken(gen, "access-2", newExpiry))

	got := store.GetTokens()
	require.NotNil(t, got)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.WithinDuration(t, newExpiry, got.AccessTokenExpiresAt, time.Second)
	// refresh side must be untouched
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUpdateAccessTokenWithoutBundle(t *testing.T) {
	store := openTestStore(t)

	err := store.UpdateAccessToken(store.Generation(), "access-2", time.Now())
	assert.ErrorIs(t, err, ErrNoExistingTokens)
}

func TestUpdateAccessTokenStaleGeneration(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.StoreTokens(testBundle()))

	gen := store.Generation()
	store.Clear()

	err := store.UpdateAccessToken(gen, "late-refresh", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrStaleGeneration)
	assert.Nil(t, store.GetTokens())
}

func TestClear(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.StoreTokens(testBundle()))
	require.NoError(t, store.StoreUser(&UserIdentity{PublicID: "u1"}))
	require.NoError(t, store.SetSessionID("sess-1"))

	assert.True(t, store.Clear())

	assert.Nil(t, store.GetTokens())
	assert.Nil(t, store.GetUser())
	assert.Empty(t, store.SessionID())
}

func TestClearBumpsGeneration(t *testing.T) {
	store := openTestStore(t)

	before := store.Generation()
	store.Clear()
	assert.Greater(t, store.Generation(), before)
}

func TestUserIdentity(t *testing.T) {
	store := openTestStore(t)

	assert.Nil(t, store.GetUser())

	user := &UserIdentity{
		PublicID:    "pub-123",
		Role:        "player",
		DisplayName: "Asha",
		AvatarURL:   "https://cdn.example.com/a.png",
	}
	require.NoError(t, store.StoreUser(user))

	got := store.GetUser()
	require.NotNil(t, got)
	assert.Equal(t, user, got)
}

func TestBiometricFlag(t *testing.T) {
	store := openTestStore(t)

	assert.False(t, store.BiometricEnabled())
	require.NoError(t, store.SetBiometricEnabled(true))
	assert.True(t, store.BiometricEnabled())
	require.NoError(t, store.SetBiometricEnabled(false))
	assert.False(t, store.BiometricEnabled())
}

func TestBiometricFlagSurvivesClear(t *testing.T) {
	// Clear only erases session data; disabling the flag is logout's
	// explicit responsibility.
	store := openTestStore(t)
	require.NoError(t, store.SetBiometricEnabled(true))
	store.Clear()
	assert.True(t, store.BiometricEnabled())
}

func TestDeviceIDStable(t *testing.T) {
	store := openTestStore(t)

	first, err := store.DeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := store.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReopenWithSamePassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.db")

	store, err := Open(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.StoreTokens(testBundle()))
	require.NoError(t, store.Close())

	reopened, err := Open(path, "passphrase")
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.GetTokens()
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
}

func TestWrongPassphraseReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.db")

	store, err := Open(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.StoreTokens(testBundle()))
	require.NoError(t, store.Close())

	wrong, err := Open(path, "other-passphrase")
	require.NoError(t, err)
	defer wrong.Close()

	// Decrypt failure is a read error, and read errors mean "not
	// authenticated", never a crash.
	assert.Nil(t, wrong.GetTokens())
}
