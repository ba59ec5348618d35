// Package session orchestrates the credential lifecycle: login, logout, and
// app-start initialization. It is the only place allowed to mutate the
// app-wide auth state observer; everything else reads tokens through the
// refresh coordinator.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pc29564530/khelogames-client/internal/api"
	"github.com/pc29564530/khelogames-client/internal/refresh"
	"github.com/pc29564530/khelogames-client/internal/securestore"
)

// StateObserver receives auth-state transitions. In the app this is the
// global state store; tests inject a recorder.
type StateObserver interface {
	SetAuthenticated(authenticated bool)
	SetUser(user *securestore.UserIdentity)
	Logout()
}

// SessionClient is the slice of the API client the manager needs.
type SessionClient interface {
	Login(ctx context.Context, creds api.Credentials) (*api.LoginResponse, error)
	Logout(ctx context.Context, sessionID string) error
}

// Manager composes the credential store, the refresh coordinator, and the
// auth-state observer into the login/logout/startup sequences.
type Manager struct {
	store       *securestore.Store
	coordinator *refresh.Coordinator
	client      SessionClient
	observer    StateObserver

	// legacySessionPath is the old plaintext session file migrated on
	// startup.
	legacySessionPath string
}

// NewManager wires up a Manager. The coordinator's forced-logout signal
// should be connected to (*Manager).HandleForcedLogout by the caller, since
// the coordinator is usually constructed first.
func NewManager(store *securestore.Store, coordinator *refresh.Coordinator, client SessionClient, observer StateObserver, legacySessionPath string) *Manager {
	return &Manager{
		store:             store,
		coordinator:       coordinator,
		client:            client,
		observer:          observer,
		legacySessionPath: legacySessionPath,
	}
}

// Login authenticates against the server and establishes the local session.
// On any failure nothing is stored and the auth state is untouched.
func (m *Manager) Login(ctx context.Context, creds api.Credentials) (*securestore.UserIdentity, error) {
	resp, err := m.client.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	bundle := &securestore.TokenBundle{
		AccessToken:           resp.AccessToken,
		RefreshToken:          resp.RefreshToken,
		AccessTokenExpiresAt:  resp.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: resp.RefreshTokenExpiresAt,
	}
	if err := m.store.StoreTokens(bundle); err != nil {
		// Secure storage rejected the write (device locked, keystore
		// unavailable). The session cannot be established.
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}

	user := &securestore.UserIdentity{
		PublicID:    resp.User.PublicID,
		Role:        resp.User.Role,
		DisplayName: resp.User.DisplayName,
		AvatarURL:   resp.User.AvatarURL,
	}
	if err := m.store.StoreUser(user); err != nil {
		return nil, fmt.Errorf("failed to persist user identity: %w", err)
	}
	if resp.SessionID != "" {
		if err := m.store.SetSessionID(resp.SessionID); err != nil {
			log.Warn().Err(err).Msg("failed to persist session id")
		}
	}

	m.observer.SetUser(user)
	m.observer.SetAuthenticated(true)
	m.coordinator.ScheduleRefresh(resp.AccessTokenExpiresAt)

	log.Info().Str("user", user.PublicID).Msg("logged in")
	return user, nil
}

// Logout tears the session down. Remote invalidation is best-effort; every
// local step runs regardless of earlier failures, so from the user's
// perspective logout cannot fail.
func (m *Manager) Logout(ctx context.Context) {
	if sessionID := m.store.SessionID(); sessionID != "" {
		if err := m.client.Logout(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("remote session invalidation failed, continuing logout")
		}
	}

	m.coordinator.CancelRefresh()

	if !m.store.Clear() {
		log.Error().Msg("secure storage not fully cleared during logout")
	}
	if err := m.store.SetBiometricEnabled(false); err != nil {
		log.Warn().Err(err).Msg("failed to clear biometric flag during logout")
	}

	m.observer.Logout()
	m.observer.SetAuthenticated(false)

	log.Info().Msg("logged out")
}

// HandleForcedLogout is the coordinator's terminal-failure signal. The
// coordinator has already cleared the store; only the observable state is
// left to flip.
func (m *Manager) HandleForcedLogout() {
	if err := m.store.SetBiometricEnabled(false); err != nil {
		log.Warn().Err(err).Msg("failed to clear biometric flag during forced logout")
	}
	m.observer.Logout()
	m.observer.SetAuthenticated(false)
}

// InitializeOnAppStart restores the session at process start: run the
// one-time legacy migration, then either resume with the stored bundle
// (refreshing immediately if it is already stale) or settle into the
// signed-out state.
func (m *Manager) InitializeOnAppStart(ctx context.Context) error {
	if m.legacySessionPath != "" {
		if _, err := m.store.MigrateFromLegacyFile(m.legacySessionPath); err != nil {
			log.Warn().Err(err).Msg("legacy session migration failed")
		}
	}

	bundle := m.store.GetTokens()
	if bundle == nil {
		m.observer.SetAuthenticated(false)
		return nil
	}

	if user := m.store.GetUser(); user != nil {
		m.observer.SetUser(user)
	}

	// Stale token: refresh right away. Fresh token: returns immediately.
	if _, err := m.coordinator.GetValidAccessToken(ctx); err != nil {
		// A terminal failure already forced a logout through the
		// coordinator; a transient one keeps the credentials for the next
		// attempt but the app starts signed out until a token is usable.
		m.observer.SetAuthenticated(false)
		return fmt.Errorf("could not restore session: %w", err)
	}

	// Arm the proactive timer for whatever expiry is now stored. After a
	// refresh the coordinator has already scheduled it; rescheduling with
	// the same expiry is harmless since at most one timer ever exists.
	if current := m.store.GetTokens(); current != nil {
		m.coordinator.ScheduleRefresh(current.AccessTokenExpiresAt)
	}

	m.observer.SetAuthenticated(true)

	log.Info().Msg("session restored")
	return nil
}
