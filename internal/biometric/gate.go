package biometric

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pc29564530/khelogames-client/internal/securestore"
)

// Result classifies one challenge outcome. Exactly one of the three UI
// reactions applies: Success (proceed), Cancelled (do nothing),
// FallbackRequired (show the password path). Locked additionally marks a
// lockout so the UI can explain why the sensor stopped responding.
type Result struct {
	Success          bool
	Cancelled        bool
	Locked           bool
	FallbackRequired bool
	BiometryType     BiometryType
	Err              error
}

// SensitiveAction wraps a guarded operation with its outcome handlers. Each
// handler returns whether the action ultimately went through.
type SensitiveAction struct {
	Name       string
	Prompt     PromptConfig
	OnSuccess  func() bool
	OnFallback func() bool
	OnCancel   func() bool
}

// Gate wraps sensitive actions behind the platform challenge and owns the
// persisted opt-in flag.
type Gate struct {
	platform Platform
	store    *securestore.Store
}

// NewGate creates a Gate over the given platform primitive and store.
func NewGate(platform Platform, store *securestore.Store) *Gate {
	return &Gate{platform: platform, store: store}
}

// IsAvailable queries platform capability. It never fails: a platform error
// is reported as "not available" so callers degrade to fallback instead of
// crashing a settings screen.
func (g *Gate) IsAvailable() Availability {
	avail, err := g.platform.Availability()
	if err != nil {
		log.Warn().Err(err).Msg("biometric capability query failed")
		return Availability{Available: false, IsSupported: false}
	}
	return avail
}

// Authenticate issues one platform challenge and classifies the outcome.
func (g *Gate) Authenticate(ctx context.Context, prompt PromptConfig) Result {
	avail := g.IsAvailable()
	if !avail.Available {
		return Result{FallbackRequired: true}
	}

	err := g.platform.Challenge(ctx, prompt.withDefaults())
	switch {
	case err == nil:
		return Result{Success: true, BiometryType: avail.BiometryType}
	case errors.Is(err, ErrCancelled):
		return Result{Cancelled: true}
	case errors.Is(err, ErrLockout):
		return Result{Locked: true, FallbackRequired: true}
	case errors.Is(err, ErrNotEnrolled), errors.Is(err, ErrUnavailable):
		return Result{FallbackRequired: true}
	default:
		log.Warn().Err(err).Msg("biometric challenge failed")
		return Result{FallbackRequired: true, Err: err}
	}
}

// ForSensitiveAction challenges the user and routes to exactly one of the
// action's handlers, returning that handler's verdict. When biometrics are
// unavailable the fallback handler runs directly; the gate never fails
// open.
func (g *Gate) ForSensitiveAction(ctx context.Context, action SensitiveAction) bool {
	avail := g.IsAvailable()
	if !avail.Available {
		log.Debug().Str("action", action.Name).Msg("biometrics unavailable, using fallback")
		return runHandler(action.OnFallback)
	}

	result := g.Authenticate(ctx, action.Prompt)
	switch {
	case result.Success:
		return runHandler(action.OnSuccess)
	case result.Cancelled:
		log.Debug().Str("action", action.Name).Msg("sensitive action cancelled by user")
		return runHandler(action.OnCancel)
	default:
		return runHandler(action.OnFallback)
	}
}

func runHandler(h func() bool) bool {
	if h == nil {
		return false
	}
	return h()
}

// Enable turns the biometric opt-in flag on, but only after one live
// successful challenge proves the user can actually pass it.
func (g *Gate) Enable(ctx context.Context) (Result, error) {
	result := g.Authenticate(ctx, PromptConfig{
		PromptMessage: "Confirm your identity to enable biometric sign-in",
	})
	if !result.Success {
		return result, nil
	}

	if err := g.store.SetBiometricEnabled(true); err != nil {
		return result, err
	}
	log.Info().Msg("biometric auth enabled")
	return result, nil
}

// Disable clears the opt-in flag.
func (g *Gate) Disable() error {
	if err := g.store.SetBiometricEnabled(false); err != nil {
		return err
	}
	log.Info().Msg("biometric auth disabled")
	return nil
}

// Enabled reports the persisted opt-in flag.
func (g *Gate) Enabled() bool {
	return g.store.BiometricEnabled()
}
