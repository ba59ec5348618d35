// Package biometric gates sensitive actions behind a platform biometric
// challenge. The platform primitive itself (Touch ID, fingerprint sensor,
// whatever the OS provides) is injected; this package owns the outcome
// classification so callers always learn whether to retry, fall back to a
// password, or do nothing.
package biometric

import (
	"context"
	"errors"
)

// Typed reasons a challenge can fail. Platform implementations must map
// their native error codes onto these; anything else is treated as a
// generic failure requiring fallback.
var (
	// ErrCancelled means the user dismissed the prompt.
	ErrCancelled = errors.New("biometric prompt cancelled")

	// ErrLockout means too many failed attempts; the sensor is temporarily
	// disabled and fallback is required.
	ErrLockout = errors.New("biometric locked out")

	// ErrNotEnrolled means the device supports biometrics but none are
	// enrolled.
	ErrNotEnrolled = errors.New("no biometric credentials enrolled")

	// ErrUnavailable means the device has no usable biometric hardware.
	ErrUnavailable = errors.New("biometric hardware unavailable")
)

// BiometryType identifies the sensor kind reported by the platform.
type BiometryType string

const (
	BiometryTouchID     BiometryType = "TouchID"
	BiometryFaceID      BiometryType = "FaceID"
	BiometryFingerprint BiometryType = "Fingerprint"
)

// Availability is the result of a capability query.
type Availability struct {
	Available    bool
	IsSupported  bool
	BiometryType BiometryType
}

// PromptConfig parameterizes the platform prompt. Zero fields take the
// defaults from DefaultPrompt.
type PromptConfig struct {
	PromptMessage      string
	CancelButtonText   string
	FallbackButtonText string
}

// DefaultPrompt is the prompt configuration used when fields are left
// empty.
var DefaultPrompt = PromptConfig{
	PromptMessage:      "Authenticate to continue",
	CancelButtonText:   "Cancel",
	FallbackButtonText: "Use Password",
}

func (p PromptConfig) withDefaults() PromptConfig {
	if p.PromptMessage == "" {
		p.PromptMessage = DefaultPrompt.PromptMessage
	}
	if p.CancelButtonText == "" {
		p.CancelButtonText = DefaultPrompt.CancelButtonText
	}
	if p.FallbackButtonText == "" {
		p.FallbackButtonText = DefaultPrompt.FallbackButtonText
	}
	return p
}

// Platform is the OS biometric primitive. Challenge blocks until the user
// responds and returns nil on success or one of the typed errors above.
type Platform interface {
	Availability() (Availability, error)
	Challenge(ctx context.Context, prompt PromptConfig) error
}

// UnsupportedPlatform is a Platform for environments with no biometric
// hardware at all. Every challenge requires fallback.
type UnsupportedPlatform struct{}

func (UnsupportedPlatform) Availability() (Availability, error) {
	return Availability{Available: false, IsSupported: false}, nil
}

func (UnsupportedPlatform) Challenge(ctx context.Context, prompt PromptConfig) error {
	return ErrUnavailable
}
