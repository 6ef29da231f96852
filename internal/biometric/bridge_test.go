package biometric

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-session-client/internal/credstore"
	"go-session-client/internal/event"
	"go-session-client/internal/model"
	"go-session-client/internal/session"
	"go-session-client/pkg/apierror"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
	pair  model.TokenPair
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (model.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshToken)
	return f.pair, f.err
}

type fakeSettings struct {
	mu        sync.Mutex
	enabled   bool
	updateErr error
	getErr    error
	updates   []bool
	profile   model.Profile
	tokens    []string
	onUpdate  func()
}

func (f *fakeSettings) SecuritySettings(context.Context) (model.SecuritySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.SecuritySettings{BiometricsEnabled: f.enabled}, f.getErr
}

func (f *fakeSettings) UpdateSecuritySettings(_ context.Context, s model.SecuritySettings) (model.SecuritySettings, error) {
	if f.onUpdate != nil {
		f.onUpdate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, s.BiometricsEnabled)
	if f.updateErr != nil {
		return model.SecuritySettings{}, f.updateErr
	}
	f.enabled = s.BiometricsEnabled
	return s, nil
}

func (f *fakeSettings) ProfileWithToken(_ context.Context, _ string, accessToken string) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	return f.profile, nil
}

type fixture struct {
	bridge    *Bridge
	device    *MockDevice
	creds     *credstore.Store
	sessions  *session.Store
	refresher *fakeRefresher
	api       *fakeSettings
	bus       *event.InMemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	creds := credstore.New(credstore.NewMemoryBackend(), nil, discard)
	f := &fixture{
		device:    new(MockDevice),
		creds:     creds,
		sessions:  session.NewStore(creds, discard),
		refresher: &fakeRefresher{},
		api:       &fakeSettings{profile: model.Profile{ID: "u-1", Email: "ana@example.org", Name: "Ana"}},
		bus:       event.NewBus(),
	}

	bridge, err := NewBridge(Deps{
		Device:    f.device,
		Creds:     f.creds,
		Sessions:  f.sessions,
		Refresher: f.refresher,
		API:       f.api,
		Bus:       f.bus,
		Logger:    discard,
	})
	require.NoError(t, err)
	f.bridge = bridge

	return f
}

func (f *fixture) deviceReady(success bool, reason string) {
	f.device.On("HardwareAvailable", mock.Anything).Return(true)
	f.device.On("Enrolled", mock.Anything).Return(true)
	f.device.On("Authenticate", mock.Anything, mock.Anything).Return(Result{Success: success, Reason: reason}, nil)
}

func (f *fixture) bind(t *testing.T, refreshToken string, userID string) {
	t.Helper()
	ctx := context.Background()
	require.True(t, f.creds.Set(ctx, EnabledKey, "true"))
	require.True(t, f.creds.Set(ctx, RefreshTokenKey, refreshToken))
	require.True(t, f.creds.Set(ctx, UserIDKey, userID))
}

func liveSession(userID string, access string, refresh string) model.Session {
	return model.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    model.DefaultTokenType,
		Profile:      model.Profile{ID: userID, Email: userID + "@example.org", Name: userID},
	}
}

func TestNewBridgeRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewBridge(Deps{})
	require.Error(t, err)
}

func TestEnableBiometrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	current := liveSession("u-1", "A1", "R1")
	enabled, err := f.bridge.EnableBiometrics(ctx, &current)
	require.NoError(t, err)
	require.True(t, enabled)

	require.True(t, f.bridge.IsEnabled(ctx))
	token, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, "R1", token)
	userID, ok := f.creds.Get(ctx, UserIDKey)
	require.True(t, ok)
	require.Equal(t, "u-1", userID)
	require.Equal(t, []bool{true}, f.api.updates)

	got := <-events
	require.Equal(t, event.TypeBiometricsEnabled, got.Type)
	require.Equal(t, "u-1", got.UserID)

	f.device.AssertCalled(t, "Authenticate", mock.Anything, EnablePrompt)
}

func TestEnableBiometricsBindsTokenRotatedDuringUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")

	current := liveSession("u-1", "A1", "R1")
	require.NoError(t, f.sessions.Set(ctx, current))
	f.api.onUpdate = func() {
		// What the interceptor does when the update call hits a 401.
		require.NoError(t, f.sessions.Set(ctx, liveSession("u-1", "A2", "R2")))
		f.bridge.SyncBiometricRefreshToken(ctx, liveSession("u-1", "A2", "R2"))
	}

	enabled, err := f.bridge.EnableBiometrics(ctx, &current)
	require.NoError(t, err)
	require.True(t, enabled)

	token, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, "R2", token)
	require.True(t, f.bridge.IsEnabled(ctx))
}

func TestEnableBiometricsKeepsBindingWhenSessionChangedUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")

	current := liveSession("u-1", "A1", "R1")
	f.api.onUpdate = func() {
		require.NoError(t, f.sessions.Set(ctx, liveSession("u-2", "B1", "RB1")))
	}

	_, err := f.bridge.EnableBiometrics(ctx, &current)
	require.NoError(t, err)

	token, _ := f.creds.Get(ctx, RefreshTokenKey)
	require.Equal(t, "R1", token)
	userID, _ := f.creds.Get(ctx, UserIDKey)
	require.Equal(t, "u-1", userID)
}

func TestEnableBiometricsWithoutRefreshTokenWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	current := liveSession("u-1", "A1", "")
	enabled, err := f.bridge.EnableBiometrics(ctx, &current)
	require.ErrorIs(t, err, model.ErrSessionRequired)
	require.False(t, enabled)

	_, err = f.bridge.EnableBiometrics(ctx, nil)
	require.ErrorIs(t, err, model.ErrSessionRequired)

	for _, key := range []string{EnabledKey, RefreshTokenKey, UserIDKey} {
		_, ok := f.creds.Get(ctx, key)
		assert.False(t, ok, key)
	}
	require.Empty(t, f.api.updates)
	f.device.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestEnableBiometricsUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.device.On("HardwareAvailable", mock.Anything).Return(true)
	f.device.On("Enrolled", mock.Anything).Return(false)

	current := liveSession("u-1", "A1", "R1")
	_, err := f.bridge.EnableBiometrics(ctx, &current)
	require.ErrorIs(t, err, model.ErrBiometricsUnavailable)

	f.device.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
	require.Empty(t, f.api.updates)
}

func TestEnableBiometricsPromptCancelled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(false, "user_cancel")

	current := liveSession("u-1", "A1", "R1")
	_, err := f.bridge.EnableBiometrics(ctx, &current)
	require.ErrorIs(t, err, model.ErrBiometricAuthFailed)

	var promptErr *PromptError
	require.ErrorAs(t, err, &promptErr)
	require.Equal(t, "user_cancel", promptErr.Reason)

	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
	require.Empty(t, f.api.updates)
}

func TestEnableBiometricsRollsBackOnBackendFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	f.api.updateErr = apierror.New(apierror.CodeInternal, "boom", "", 500)

	current := liveSession("u-1", "A1", "R1")
	enabled, err := f.bridge.EnableBiometrics(ctx, &current)
	require.ErrorIs(t, err, model.ErrSettingsUpdateFailed)
	require.False(t, enabled)

	require.False(t, f.bridge.IsEnabled(ctx))
	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
	_, ok = f.creds.Get(ctx, UserIDKey)
	require.False(t, ok)
}

func TestDisableBiometricsWithoutBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.bridge.DisableBiometrics(ctx))
	require.False(t, f.bridge.IsEnabled(ctx))

	value, ok := f.creds.Get(ctx, EnabledKey)
	require.True(t, ok)
	require.Equal(t, "false", value)
	require.Equal(t, []bool{false}, f.api.updates)
}

func TestDisableBiometricsClearsBindingEvenWhenBackendFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")
	f.api.updateErr = errors.New("connection reset")

	err := f.bridge.DisableBiometrics(ctx)
	require.ErrorIs(t, err, model.ErrSettingsUpdateFailed)

	require.False(t, f.bridge.IsEnabled(ctx))
	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
	_, ok = f.creds.Get(ctx, UserIDKey)
	require.False(t, ok)
}

func TestSignInWithBiometricRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	f.bind(t, "RB1", "u-1")
	f.refresher.pair = model.TokenPair{AccessToken: "A3", RefreshToken: "R3"}

	next, err := f.bridge.SignInWithBiometricRefresh(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "A3", next.AccessToken)
	require.Equal(t, "R3", next.RefreshToken)
	require.Equal(t, "u-1", next.ID)
	require.Equal(t, "ana@example.org", next.Email)

	require.Equal(t, []string{"RB1"}, f.refresher.calls)
	require.Equal(t, []string{"A3"}, f.api.tokens)

	stored, ok := f.sessions.Current(ctx)
	require.True(t, ok)
	require.Equal(t, *next, *stored)

	token, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, "R3", token)

	f.device.AssertCalled(t, "Authenticate", mock.Anything, DefaultUnlockPrompt)
}

func TestSignInPromptFailureMakesNoNetworkCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(false, "lockout")
	f.bind(t, "RB1", "u-1")

	_, err := f.bridge.SignInWithBiometricRefresh(ctx, "Unlock")
	require.ErrorIs(t, err, model.ErrBiometricAuthFailed)
	require.Empty(t, f.refresher.calls)
	require.Empty(t, f.api.tokens)

	_, ok := f.sessions.Current(ctx)
	require.False(t, ok)
}

func TestSignInWithoutBoundToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	require.True(t, f.creds.Set(ctx, EnabledKey, "true"))

	_, err := f.bridge.SignInWithBiometricRefresh(ctx, "")
	require.ErrorIs(t, err, model.ErrMissingBiometricToken)
	require.NotErrorIs(t, err, model.ErrBiometricAuthFailed)
	require.Empty(t, f.refresher.calls)
}

func TestSignInRejectedTokenClearsBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	f.bind(t, "RB1", "u-1")
	f.refresher.err = model.ErrRefreshRejected

	_, err := f.bridge.SignInWithBiometricRefresh(ctx, "")
	require.ErrorIs(t, err, model.ErrRefreshRejected)

	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
	require.True(t, f.bridge.IsEnabled(ctx))

	_, err = f.bridge.SignInWithBiometricRefresh(ctx, "")
	require.ErrorIs(t, err, model.ErrMissingBiometricToken)
}

func TestSignInTransportErrorKeepsBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.deviceReady(true, "")
	f.bind(t, "RB1", "u-1")
	f.refresher.err = errors.New("dial tcp: connection refused")

	_, err := f.bridge.SignInWithBiometricRefresh(ctx, "")
	require.Error(t, err)

	token, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, "RB1", token)
}

func TestSyncBiometricRefreshTokenFollowsRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")

	f.bridge.SyncBiometricRefreshToken(ctx, liveSession("u-1", "A2", "R2"))

	token, _ := f.creds.Get(ctx, RefreshTokenKey)
	require.Equal(t, "R2", token)
}

func TestSyncBiometricRefreshTokenIgnoresOtherUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "RX", "user-X")

	f.bridge.SyncBiometricRefreshToken(ctx, liveSession("user-Y", "AY", "RY"))

	token, _ := f.creds.Get(ctx, RefreshTokenKey)
	require.Equal(t, "RX", token)
	userID, _ := f.creds.Get(ctx, UserIDKey)
	require.Equal(t, "user-X", userID)
}

func TestSyncBiometricRefreshTokenWhenDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.bridge.SyncBiometricRefreshToken(ctx, liveSession("u-1", "A2", "R2"))

	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
}

func TestClearBindingKeepsFlag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")

	f.bridge.ClearBinding(ctx)

	require.True(t, f.bridge.IsEnabled(ctx))
	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)
	_, ok = f.creds.Get(ctx, UserIDKey)
	require.False(t, ok)
}

func TestSyncSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")
	f.api.enabled = false

	enabled, err := f.bridge.SyncSettings(ctx)
	require.NoError(t, err)
	require.False(t, enabled)
	require.False(t, f.bridge.IsEnabled(ctx))
	_, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.False(t, ok)

	f.api.enabled = true
	enabled, err = f.bridge.SyncSettings(ctx)
	require.NoError(t, err)
	require.True(t, enabled)
	require.True(t, f.bridge.IsEnabled(ctx))
}

func TestSyncSettingsIgnoresBindingOfAnotherUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")
	require.NoError(t, f.sessions.Set(ctx, liveSession("u-2", "B1", "RB1")))
	f.api.enabled = true

	enabled, err := f.bridge.SyncSettings(ctx)
	require.NoError(t, err)
	require.False(t, enabled)
	require.False(t, f.bridge.IsEnabled(ctx))

	token, ok := f.creds.Get(ctx, RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, "R1", token)
}

func TestSyncSettingsFailureKeepsCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.bind(t, "R1", "u-1")
	f.api.getErr = errors.New("timeout")

	enabled, err := f.bridge.SyncSettings(ctx)
	require.Error(t, err)
	require.True(t, enabled)
}

func TestHardwareQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.device.On("HardwareAvailable", mock.Anything).Return(false)

	require.False(t, f.bridge.IsBiometricHardwareAvailable(ctx))
	require.False(t, f.bridge.IsBiometricEnrolled(ctx))
	f.device.AssertNotCalled(t, "Enrolled", mock.Anything)
}

func TestConsoleDevice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var out strings.Builder

	result, err := NewConsoleDevice(strings.NewReader("yes\n"), &out).Authenticate(ctx, "Unlock")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Contains(t, out.String(), "Unlock")

	result, err = NewConsoleDevice(strings.NewReader("\n"), &out).Authenticate(ctx, "Unlock")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "user_cancel", result.Reason)
}
