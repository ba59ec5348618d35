package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pc29564530/khelogames-client/internal/api"
	"github.com/pc29564530/khelogames-client/internal/refresh"
	"github.com/pc29564530/khelogames-client/internal/securestore"
)

// fakeClient scripts the session endpoints and counts calls.
type fakeClient struct {
	loginResp *api.LoginResponse
	loginErr  error

	logoutErr   error
	logoutCalls int
	lastSession string

	refreshResp  *api.RefreshResponse
	refreshErr   error
	refreshCalls atomic.Int32
}

func (f *fakeClient) Login(ctx context.Context, creds api.Credentials) (*api.LoginResponse, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.loginResp, nil
}

func (f *fakeClient) Logout(ctx context.Context, sessionID string) error {
	f.logoutCalls++
	f.lastSession = sessionID
	return f.logoutErr
}

func (f *fakeClient) Refresh(ctx context.Context, refreshToken string) (*api.RefreshResponse, error) {
	f.refreshCalls.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResp, nil
}

// recorderObserver records auth-state transitions in order.
type recorderObserver struct {
	events []string
	user   *securestore.UserIdentity
}

func (r *recorderObserver) SetAuthenticated(authenticated bool) {
	r.events = append(r.events, fmt.Sprintf("authenticated=%t", authenticated))
}

func (r *recorderObserver) SetUser(user *securestore.UserIdentity) {
	r.user = user
	r.events = append(r.events, "user")
}

func (r *recorderObserver) Logout() {
	r.events = append(r.events, "logout")
}

func loginResponse() *api.LoginResponse {
	return &api.LoginResponse{
		AccessToken:           "at-1",
		RefreshToken:          "rt-1",
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
		RefreshTokenExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		SessionID:             "sess-1",
		User: api.LoginUser{
			PublicID:    "pub-1",
			Role:        "player",
			DisplayName: "Asha",
		},
	}
}

type fixture struct {
	store    *securestore.Store
	client   *fakeClient
	observer *recorderObserver
	manager  *Manager
	legacy   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := securestore.Open(filepath.Join(t.TempDir(), "secrets.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := &fakeClient{loginResp: loginResponse()}
	observer := &recorderObserver{}

	coordinator := refresh.NewCoordinator(refresh.Config{Store: store, Client: client})
	legacy := filepath.Join(t.TempDir(), "session.json")
	manager := NewManager(store, coordinator, client, observer, legacy)
	coordinator.SetOnForcedLogout(manager.HandleForcedLogout)

	return &fixture{store: store, client: client, observer: observer, manager: manager, legacy: legacy}
}

func TestLoginEstablishesSession(t *testing.T) {
	f := newFixture(t)

	user, err := f.manager.Login(context.Background(), api.Credentials{Username: "asha", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "pub-1", user.PublicID)

	bundle := f.store.GetTokens()
	require.NotNil(t, bundle)
	assert.Equal(t, "at-1", bundle.AccessToken)
	assert.Equal(t, "rt-1", bundle.RefreshToken)

	stored := f.store.GetUser()
	require.NotNil(t, stored)
	assert.Equal(t, "Asha", stored.DisplayName)
	assert.Equal(t, "sess-1", f.store.SessionID())

	assert.Equal(t, []string{"user", "authenticated=true"}, f.observer.events)
}

func TestLoginFailureTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.client.loginErr = errors.New("invalid credentials")

	_, err := f.manager.Login(context.Background(), api.Credentials{Username: "asha", Password: "bad"})
	require.Error(t, err)

	assert.Nil(t, f.store.GetTokens())
	assert.Nil(t, f.store.GetUser())
	assert.Empty(t, f.observer.events)
}

func TestLogoutIsUnconditional(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Login(context.Background(), api.Credentials{Username: "asha", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetBiometricEnabled(true))

	// Remote invalidation blows up; local teardown must still complete.
	f.client.logoutErr = errors.New("network unreachable")
	f.observer.events = nil

	f.manager.Logout(context.Background())

	assert.Equal(t, 1, f.client.logoutCalls)
	assert.Equal(t, "sess-1", f.client.lastSession)
	assert.Nil(t, f.store.GetTokens())
	assert.Nil(t, f.store.GetUser())
	assert.False(t, f.store.BiometricEnabled())
	assert.Equal(t, []string{"logout", "authenticated=false"}, f.observer.events)
}

func TestLogoutWithoutSessionSkipsRemoteCall(t *testing.T) {
	f := newFixture(t)

	f.manager.Logout(context.Background())

	assert.Equal(t, 0, f.client.logoutCalls)
	assert.Equal(t, []string{"logout", "authenticated=false"}, f.observer.events)
}

func TestHandleForcedLogout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetBiometricEnabled(true))

	f.manager.HandleForcedLogout()

	assert.False(t, f.store.BiometricEnabled())
	assert.Equal(t, []string{"logout", "authenticated=false"}, f.observer.events)
}

func TestForcedLogoutOnExpiredRefreshTokenReachesObserver(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.StoreTokens(&securestore.TokenBundle{
		AccessToken:           "at-old",
		RefreshToken:          "rt-old",
		AccessTokenExpiresAt:  time.Now().Add(-time.Minute),
		RefreshTokenExpiresAt: time.Now().Add(-time.Hour),
	}))

	err := f.manager.InitializeOnAppStart(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, refresh.ErrRefreshTokenExpired)

	assert.Nil(t, f.store.GetTokens())
	assert.Contains(t, f.observer.events, "logout")
	assert.Contains(t, f.observer.events, "authenticated=false")
	assert.NotContains(t, f.observer.events, "authenticated=true")
}

func TestInitializeWithoutCredentials(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.manager.InitializeOnAppStart(context.Background()))
	assert.Equal(t, []string{"authenticated=false"}, f.observer.events)
}

func TestInitializeWithFreshToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.StoreTokens(&securestore.TokenBundle{
		AccessToken:           "at-1",
		RefreshToken:          "rt-1",
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
	}))
	require.NoError(t, f.store.StoreUser(&securestore.UserIdentity{PublicID: "pub-1"}))

	require.NoError(t, f.manager.InitializeOnAppStart(context.Background()))

	assert.EqualValues(t, 0, f.client.refreshCalls.Load(), "fresh token needs no refresh")
	assert.Equal(t, []string{"user", "authenticated=true"}, f.observer.events)
	require.NotNil(t, f.observer.user)
	assert.Equal(t, "pub-1", f.observer.user.PublicID)
}

func TestInitializeWithStaleTokenRefreshes(t *testing.T) {
	f := newFixture(t)
	f.client.refreshResp = &api.RefreshResponse{
		AccessToken:          "at-2",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.store.StoreTokens(&securestore.TokenBundle{
		AccessToken:           "at-1",
		RefreshToken:          "rt-1",
		AccessTokenExpiresAt:  time.Now().Add(-time.Minute),
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	require.NoError(t, f.manager.InitializeOnAppStart(context.Background()))

	assert.EqualValues(t, 1, f.client.refreshCalls.Load())
	bundle := f.store.GetTokens()
	require.NotNil(t, bundle)
	assert.Equal(t, "at-2", bundle.AccessToken)
	assert.Contains(t, f.observer.events, "authenticated=true")
}

func TestInitializeTransientRefreshFailureKeepsCredentials(t *testing.T) {
	f := newFixture(t)
	f.client.refreshErr = errors.New("offline")
	require.NoError(t, f.store.StoreTokens(&securestore.TokenBundle{
		AccessToken:           "at-1",
		RefreshToken:          "rt-1",
		AccessTokenExpiresAt:  time.Now().Add(-time.Minute),
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	err := f.manager.InitializeOnAppStart(context.Background())
	require.Error(t, err)

	// Credentials survive for the next attempt; the app just starts
	// signed out.
	assert.NotNil(t, f.store.GetTokens())
	assert.Contains(t, f.observer.events, "authenticated=false")
}

func TestInitializeMigratesLegacySession(t *testing.T) {
	f := newFixture(t)
	legacy := fmt.Sprintf(`{
		"accessToken": "legacy-at",
		"refreshToken": "legacy-rt",
		"accessTokenExpiresAt": %q,
		"refreshTokenExpiresAt": %q,
		"user": {"publicId": "pub-7", "displayName": "Kiran"}
	}`,
		time.Now().Add(time.Hour).Format(time.RFC3339),
		time.Now().Add(24*time.Hour).Format(time.RFC3339))
	require.NoError(t, os.WriteFile(f.legacy, []byte(legacy), 0600))

	require.NoError(t, f.manager.InitializeOnAppStart(context.Background()))

	bundle := f.store.GetTokens()
	require.NotNil(t, bundle)
	assert.Equal(t, "legacy-at", bundle.AccessToken)
	assert.Contains(t, f.observer.events, "authenticated=true")

	_, statErr := os.Stat(f.legacy)
	assert.True(t, os.IsNotExist(statErr))
}
