// Package refresh keeps the stored access token usable: it decides when the
// token is stale, performs the refresh exchange exactly once per staleness
// window no matter how many callers pile up, and keeps a standing timer so
// the token is renewed before anything notices it aged out.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/pc29564530/khelogames-client/internal/api"
	"github.com/pc29564530/khelogames-client/internal/securestore"
)

// DefaultBuffer is how long before the access token's expiry it is already
// considered stale. Proactive refreshes fire this far ahead of the
// deadline.
const DefaultBuffer = 5 * time.Minute

var (
	// ErrNotAuthenticated means there are no stored credentials at all.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoRefreshToken means the stored bundle has no refresh token. The
	// session cannot be renewed; it is torn down.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshTokenExpired means the refresh token's own deadline has
	// passed. The session cannot be renewed; it is torn down.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// RefreshClient is the slice of the API client the coordinator needs.
type RefreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (*api.RefreshResponse, error)
}

// Config configures a Coordinator. Store and Client are required; the rest
// default sensibly.
type Config struct {
	Store  *securestore.Store
	Client RefreshClient

	// Buffer overrides DefaultBuffer.
	Buffer time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time

	// OnForcedLogout is invoked (synchronously, after the store has been
	// cleared) when a refresh failure is terminal for the session.
	OnForcedLogout func()
}

// Coordinator serializes token refreshes. Construct one per process and
// share it; the single-flight guarantee only holds within one instance.
type Coordinator struct {
	store          *securestore.Store
	client         RefreshClient
	buffer         time.Duration
	now            func() time.Time
	onForcedLogout func()

	group singleflight.Group

	mu    sync.Mutex
	timer *time.Timer
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		store:          cfg.Store,
		client:         cfg.Client,
		buffer:         cfg.Buffer,
		now:            cfg.Now,
		onForcedLogout: cfg.OnForcedLogout,
	}
	if c.buffer == 0 {
		c.buffer = DefaultBuffer
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SetOnForcedLogout installs the forced-logout signal handler. The session
// manager is constructed after the coordinator, so the hook is wired late;
// call it during startup, before any refresh can run.
func (c *Coordinator) SetOnForcedLogout(fn func()) {
	c.onForcedLogout = fn
}

// GetValidAccessToken returns an access token that is not within the
// staleness buffer of its expiry, refreshing first if needed. Concurrent
// callers during one staleness window share a single refresh network call
// and receive the same token or the same error.
func (c *Coordinator) GetValidAccessToken(ctx context.Context) (string, error) {
	bundle := c.store.GetTokens()
	if bundle == nil {
		return "", ErrNotAuthenticated
	}

	if !c.isStale(bundle.AccessTokenExpiresAt) {
		return bundle.AccessToken, nil
	}

	return c.refresh(ctx)
}

// isStale reports whether a token with the given expiry needs refreshing. A
// zero expiry fails safe toward "needs refresh".
func (c *Coordinator) isStale(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return expiresAt.Sub(c.now()) <= c.buffer
}

// refresh funnels all callers through one in-flight attempt. The network
// call deliberately detaches from the caller's context: once dispatched, a
// refresh runs to completion so storage is never left reflecting a
// half-applied exchange.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	token, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	gen := c.store.Generation()

	bundle := c.store.GetTokens()
	if bundle == nil || bundle.RefreshToken == "" {
		c.forceLogout(ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	// A missing refresh expiry is tolerated: the server is the authority
	// and will reject the token if it has in fact expired.
	if !bundle.RefreshTokenExpiresAt.IsZero() && !bundle.RefreshTokenExpiresAt.After(c.now()) {
		c.forceLogout(ErrRefreshTokenExpired)
		return "", ErrRefreshTokenExpired
	}

	resp, err := c.client.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		if api.IsAuthFailure(err) {
			c.forceLogout(err)
			return "", fmt.Errorf("refresh rejected by server: %w", err)
		}
		log.Warn().Err(err).Msg("token refresh failed, keeping session for retry")
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	expiresAt := resp.AccessTokenExpiresAt
	if expiresAt.IsZero() {
		expiresAt = tokenExpiry(resp.AccessToken)
	}

	if err := c.store.UpdateAccessToken(gen, resp.AccessToken, expiresAt); err != nil {
		if errors.Is(err, securestore.ErrStaleGeneration) || errors.Is(err, securestore.ErrNoExistingTokens) {
			log.Info().Msg("refresh completed after logout, discarding result")
			return "", err
		}
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	c.ScheduleRefresh(expiresAt)

	log.Debug().Time("expiresAt", expiresAt).Msg("access token refreshed")
	return resp.AccessToken, nil
}

// forceLogout tears the session down after an unrecoverable refresh
// failure: credentials are erased, any pending timer is dropped, and the
// lifecycle controller is signalled so the app-wide auth state flips.
func (c *Coordinator) forceLogout(cause error) {
	log.Warn().Err(cause).Msg("refresh is unrecoverable, forcing logout")

	c.CancelRefresh()
	c.store.Clear()
	if c.onForcedLogout != nil {
		c.onForcedLogout()
	}
}

// ScheduleRefresh arms the proactive refresh timer for a token expiring at
// expiresAt. At most one timer is ever active; scheduling replaces any
// earlier one. If the token is already inside the staleness buffer, the
// refresh fires immediately instead of arming a zero timer.
func (c *Coordinator) ScheduleRefresh(expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	delay := expiresAt.Sub(c.now()) - c.buffer
	if delay <= 0 {
		log.Debug().Msg("token already stale, refreshing now")
		go c.backgroundRefresh()
		return
	}

	log.Debug().Dur("delay", delay).Msg("proactive refresh scheduled")
	c.timer = time.AfterFunc(delay, c.backgroundRefresh)
}

// backgroundRefresh is the timer-driven refresh path. Failures are logged
// only: a transient failure leaves the credentials in place, and the next
// caller of GetValidAccessToken retries.
func (c *Coordinator) backgroundRefresh() {
	if _, err := c.refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("proactive token refresh failed")
	}
}

// CancelRefresh drops the pending proactive timer, if any. A refresh call
// already on the wire is not interrupted; its outcome is applied (or
// discarded by the generation check) when it lands.
func (c *Coordinator) CancelRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
