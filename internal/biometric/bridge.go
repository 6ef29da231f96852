// Package biometric implements passwordless re-entry: a refresh token sealed on the
// device is exchanged for a new Session after an on-device biometric match.
//
// The binding (enabled flag, refresh token, bound user id) follows every refresh
// rotation of the live Session, but only for the user it was bound to.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go-session-client/internal/event"
	"go-session-client/internal/metrics"
	"go-session-client/internal/model"
	"go-session-client/internal/session"
	"go-session-client/internal/transport"
)

// Credential-store keys. They must stay stable across releases.
const (
	EnabledKey      = "biometricsEnabled"
	RefreshTokenKey = "biometricRefreshToken"
	UserIDKey       = "biometricUserId"
)

const (
	DefaultUnlockPrompt = "Unlock with biometrics"
	EnablePrompt        = "Confirm to enable biometric sign-in"
)

// SettingsClient is the slice of the backend API the bridge needs.
type SettingsClient interface {
	SecuritySettings(ctx context.Context) (model.SecuritySettings, error)
	UpdateSecuritySettings(ctx context.Context, settings model.SecuritySettings) (model.SecuritySettings, error)
	ProfileWithToken(ctx context.Context, tokenType string, accessToken string) (model.Profile, error)
}

type Bridge struct {
	device    Device
	creds     session.CredentialStore
	sessions  *session.Store
	refresher transport.Refresher
	api       SettingsClient
	bus       event.Bus
	metrics   *metrics.Session
	log       *slog.Logger

	// mu serializes binding writes so a sync never interleaves with enable or unlock.
	mu sync.Mutex
}

type Deps struct {
	Device    Device
	Creds     session.CredentialStore
	Sessions  *session.Store
	Refresher transport.Refresher
	API       SettingsClient
	Bus       event.Bus
	Metrics   *metrics.Session
	Logger    *slog.Logger
}

func NewBridge(deps Deps) (*Bridge, error) {
	if deps.Device == nil {
		return nil, fmt.Errorf("biometric device is required")
	}
	if deps.Creds == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("credential and session stores are required")
	}
	if deps.Refresher == nil || deps.API == nil {
		return nil, fmt.Errorf("refresher and settings client are required")
	}

	b := &Bridge{
		device:    deps.Device,
		creds:     deps.Creds,
		sessions:  deps.Sessions,
		refresher: deps.Refresher,
		api:       deps.API,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		log:       deps.Logger,
	}
	if b.bus == nil {
		b.bus = event.Discard{}
	}
	if b.metrics == nil {
		b.metrics = metrics.Nop()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.log = b.log.With("component", "biometric")

	return b, nil
}

func (b *Bridge) IsBiometricHardwareAvailable(ctx context.Context) bool {
	return b.device.HardwareAvailable(ctx)
}

// IsBiometricEnrolled is only meaningful when hardware is available, so it reports false otherwise.
func (b *Bridge) IsBiometricEnrolled(ctx context.Context) bool {
	return b.device.HardwareAvailable(ctx) && b.device.Enrolled(ctx)
}

// IsEnabled reports the cached mirror of the server-side setting.
func (b *Bridge) IsEnabled(ctx context.Context) bool {
	value, ok := b.creds.Get(ctx, EnabledKey)
	return ok && value == "true"
}

// EnableBiometrics binds the session's refresh token to this device and turns the
// server-side flag on. When the backend update fails, the local binding is rolled back.
func (b *Bridge) EnableBiometrics(ctx context.Context, current *model.Session) (bool, error) {
	if current == nil || current.RefreshToken == "" || current.ID == "" {
		return false, model.ErrSessionRequired
	}

	if !b.IsBiometricEnrolled(ctx) {
		return false, model.ErrBiometricsUnavailable
	}

	if err := b.prompt(ctx, EnablePrompt); err != nil {
		return false, err
	}

	b.mu.Lock()
	err := b.writeBindingLocked(ctx, current.RefreshToken, current.ID)
	b.mu.Unlock()
	if err != nil {
		return false, err
	}

	// Not under mu: this call may refresh through the interceptor, which syncs the binding.
	settings, err := b.api.UpdateSecuritySettings(ctx, model.SecuritySettings{BiometricsEnabled: true})
	if err != nil {
		b.ClearBinding(ctx)
		b.cacheEnabled(ctx, false)
		b.log.Warn("enabling biometrics failed on the server; local binding rolled back", "user_id", current.ID, "error", err)
		return false, fmt.Errorf("%w: %w", model.ErrSettingsUpdateFailed, err)
	}

	if !settings.BiometricsEnabled {
		b.cacheEnabled(ctx, false)
		b.ClearBinding(ctx)
		return false, nil
	}

	// The update may have refreshed the session, consuming the token bound above.
	b.mu.Lock()
	if live, ok := b.sessions.Current(ctx); ok && live.ID == current.ID && live.RefreshToken != current.RefreshToken {
		if err := b.writeBindingLocked(ctx, live.RefreshToken, live.ID); err != nil {
			b.log.Warn("biometric binding not moved to the rotated token", "user_id", current.ID, "error", err)
		}
	}
	b.cacheEnabled(ctx, true)
	b.mu.Unlock()

	b.bus.Publish(event.New(event.TypeBiometricsEnabled, current.ID, ""))
	b.log.Info("biometrics enabled", "user_id", current.ID)
	return true, nil
}

// DisableBiometrics clears the local binding first so no credential survives a failed
// backend call, then turns the server-side flag off.
func (b *Bridge) DisableBiometrics(ctx context.Context) error {
	b.mu.Lock()
	b.clearBindingLocked(ctx)
	b.mu.Unlock()

	_, err := b.api.UpdateSecuritySettings(ctx, model.SecuritySettings{BiometricsEnabled: false})
	b.cacheEnabled(ctx, false)
	if err != nil {
		b.log.Warn("disabling biometrics failed on the server; local binding already cleared", "error", err)
		return fmt.Errorf("%w: %w", model.ErrSettingsUpdateFailed, err)
	}

	var userID string
	if current, ok := b.sessions.Current(ctx); ok {
		userID = current.ID
	}
	b.bus.Publish(event.New(event.TypeBiometricsDisabled, userID, ""))
	return nil
}

// SignInWithBiometricRefresh exchanges the bound refresh token for a new Session after
// a successful prompt. No network call is made unless the prompt succeeds.
func (b *Bridge) SignInWithBiometricRefresh(ctx context.Context, promptMessage string) (*model.Session, error) {
	if promptMessage == "" {
		promptMessage = DefaultUnlockPrompt
	}

	if err := b.prompt(ctx, promptMessage); err != nil {
		b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	refreshToken, ok := b.creds.Get(ctx, RefreshTokenKey)
	if !ok || refreshToken == "" {
		b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, model.ErrMissingBiometricToken
	}

	pair, err := b.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeRejected).Inc()
		if isRejected(err) {
			// The bound token is dead; keep the flag so the UI can offer password login.
			b.clearBindingLocked(ctx)
		}
		return nil, fmt.Errorf("biometric unlock: %w", err)
	}

	profile, err := b.api.ProfileWithToken(ctx, model.DefaultTokenType, pair.AccessToken)
	if err != nil {
		b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeFailure).Inc()
		// The old token was consumed by the exchange; keep the rotated one for the next attempt.
		if bound, ok := b.creds.Get(ctx, UserIDKey); ok {
			_ = b.writeBindingLocked(ctx, pair.RefreshToken, bound)
		}
		return nil, fmt.Errorf("biometric unlock profile: %w", err)
	}

	next := model.SessionFromProfile(profile, pair, model.DefaultTokenType)
	if err := b.sessions.Set(ctx, next); err != nil {
		b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("persist unlocked session: %w", err)
	}

	if err := b.writeBindingLocked(ctx, pair.RefreshToken, profile.ID); err != nil {
		b.log.Warn("biometric binding not updated after unlock", "user_id", profile.ID, "error", err)
	}

	b.metrics.BiometricUnlock.WithLabelValues(metrics.OutcomeSuccess).Inc()
	b.bus.Publish(event.New(event.TypeBiometricUnlocked, profile.ID, ""))
	b.bus.Publish(event.New(event.TypeSessionCreated, profile.ID, ""))
	b.log.Info("signed in with biometrics", "user_id", profile.ID)

	return &next, nil
}

// SyncBiometricRefreshToken follows a refresh-token rotation of the live session.
// It never rebinds the device to a different user.
func (b *Bridge) SyncBiometricRefreshToken(ctx context.Context, current model.Session) {
	if current.RefreshToken == "" || !b.IsEnabled(ctx) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if bound, ok := b.creds.Get(ctx, UserIDKey); ok && bound != "" && bound != current.ID {
		b.log.Debug("biometric binding belongs to another user; not synced", "user_id", current.ID)
		return
	}

	if err := b.writeBindingLocked(ctx, current.RefreshToken, current.ID); err != nil {
		b.log.Warn("biometric binding sync failed", "user_id", current.ID, "error", err)
	}
}

// ClearBinding removes the bound refresh token and user id. The enabled flag is kept:
// it mirrors the server and the next unlock reports ErrMissingBiometricToken.
func (b *Bridge) ClearBinding(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clearBindingLocked(ctx)
}

// SyncSettings refreshes the cached flag from the server and returns the local value.
// A server-side false also drops any local binding. A binding that belongs to another
// account than the live session is left alone but not marked usable.
func (b *Bridge) SyncSettings(ctx context.Context) (bool, error) {
	settings, err := b.api.SecuritySettings(ctx)
	if err != nil {
		return b.IsEnabled(ctx), err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !settings.BiometricsEnabled {
		b.cacheEnabled(ctx, false)
		b.clearBindingLocked(ctx)
		return false, nil
	}

	live, hasSession := b.sessions.Current(ctx)
	bound, hasBinding := b.creds.Get(ctx, UserIDKey)
	if hasSession && hasBinding && bound != "" && bound != live.ID {
		b.log.Debug("biometric binding belongs to another user; flag not cached", "user_id", live.ID)
		b.cacheEnabled(ctx, false)
		return false, nil
	}

	b.cacheEnabled(ctx, true)
	return true, nil
}

func (b *Bridge) prompt(ctx context.Context, message string) error {
	result, err := b.device.Authenticate(ctx, message)
	if err != nil {
		return &PromptError{Err: err}
	}
	if !result.Success {
		reason := result.Reason
		if reason == "" {
			reason = "authentication_failed"
		}
		return &PromptError{Reason: reason}
	}
	return nil
}

func (b *Bridge) writeBindingLocked(ctx context.Context, refreshToken string, userID string) error {
	b.creds.Set(ctx, RefreshTokenKey, refreshToken)
	b.creds.Set(ctx, UserIDKey, userID)

	stored, ok := b.creds.Get(ctx, RefreshTokenKey)
	if !ok || stored != refreshToken {
		return fmt.Errorf("store biometric binding: %w", model.ErrSessionNotPersisted)
	}
	return nil
}

func (b *Bridge) clearBindingLocked(ctx context.Context) {
	b.creds.Delete(ctx, RefreshTokenKey)
	b.creds.Delete(ctx, UserIDKey)
}

func (b *Bridge) cacheEnabled(ctx context.Context, enabled bool) {
	value := "false"
	if enabled {
		value = "true"
	}
	b.creds.Set(ctx, EnabledKey, value)
}

func isRejected(err error) bool {
	return errors.Is(err, model.ErrRefreshRejected)
}
