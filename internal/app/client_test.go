package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-session-client/internal/biometric"
	"go-session-client/internal/config"
	"go-session-client/internal/model"
	"go-session-client/internal/sandbox"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type e2e struct {
	client  *Client
	service *sandbox.Service
	clock   *clock
	device  *biometric.MockDevice
	member  model.Profile
}

func newE2E(t *testing.T) *e2e {
	t.Helper()

	c := &clock{now: time.Now()}
	sandboxCfg := &config.SandboxConfig{
		RequestTimeout:   5 * time.Second,
		JWTSecret:        "e2e-secret",
		AccessTTL:        5 * time.Minute,
		RefreshTTL:       time.Hour,
		AuthRateLimitRPM: 1000,
	}
	svc := sandbox.NewService(sandboxCfg.JWTSecret, sandboxCfg.AccessTTL, sandboxCfg.RefreshTTL,
		sandbox.WithBcryptCost(bcrypt.MinCost), sandbox.WithNowTime(c.Now))
	member, err := svc.SeedUser(model.Profile{Email: "ana@example.org", Name: "Ana", Age: 31}, "secret-pass")
	require.NoError(t, err)

	server := httptest.NewServer(sandbox.NewRouter(sandboxCfg, svc, nil))
	t.Cleanup(server.Close)

	device := new(biometric.MockDevice)
	device.On("HardwareAvailable", mock.Anything).Return(true)
	device.On("Enrolled", mock.Anything).Return(true)
	device.On("Authenticate", mock.Anything, mock.Anything).Return(biometric.Result{Success: true}, nil)

	cfg := &config.Config{
		APIBaseURL:        server.URL,
		RequestTimeout:    5 * time.Second,
		CredentialBackend: config.BackendMemory,
		RefreshCoalesce:   true,
		BiometricDevice:   config.DeviceNone,
	}
	client, err := NewClient(context.Background(), cfg, WithDevice(device), WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return &e2e{client: client, service: svc, clock: c, device: device, member: member}
}

func (e *e2e) login(t *testing.T) *model.Session {
	t.Helper()

	s, err := e.client.Auth.Login(context.Background(), "ana@example.org", "secret-pass")
	require.NoError(t, err)
	return s
}

func TestLoginAndProfile(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()

	s := e.login(t)
	require.Equal(t, e.member.ID, s.ID)

	profile, err := e.client.Auth.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ana", profile.Name)
	require.False(t, e.client.Biometrics.IsEnabled(ctx))
}

func TestExpiredAccessTokenRecoversTransparently(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	before := e.login(t)

	e.clock.Advance(10 * time.Minute)

	profile, err := e.client.API.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, e.member.ID, profile.ID)

	after, ok := e.client.Sessions.Current(ctx)
	require.True(t, ok)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)
	require.Equal(t, before.Profile, after.Profile)
}

func TestBiometricBindingFollowsRefreshAndUnlocks(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	s := e.login(t)

	enabled, err := e.client.Biometrics.EnableBiometrics(ctx, s)
	require.NoError(t, err)
	require.True(t, enabled)

	settings, err := e.service.SecuritySettings(e.member.ID)
	require.NoError(t, err)
	require.True(t, settings.BiometricsEnabled)

	e.clock.Advance(10 * time.Minute)
	_, err = e.client.API.Profile(ctx)
	require.NoError(t, err)

	rotated, ok := e.client.Sessions.Current(ctx)
	require.True(t, ok)
	bound, ok := e.client.Creds.Get(ctx, biometric.RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, rotated.RefreshToken, bound)

	// Drop the live session only, as an app restart with an expired session would.
	e.client.Sessions.Clear(ctx)

	unlocked, err := e.client.Biometrics.SignInWithBiometricRefresh(ctx, "")
	require.NoError(t, err)
	require.Equal(t, e.member.ID, unlocked.ID)
	require.NotEqual(t, rotated.RefreshToken, unlocked.RefreshToken)

	bound, _ = e.client.Creds.Get(ctx, biometric.RefreshTokenKey)
	require.Equal(t, unlocked.RefreshToken, bound)

	current, ok := e.client.Sessions.Current(ctx)
	require.True(t, ok)
	require.Equal(t, unlocked.AccessToken, current.AccessToken)
}

func TestRevokedRefreshTokenTearsDownEverything(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	s := e.login(t)

	_, err := e.client.Biometrics.EnableBiometrics(ctx, s)
	require.NoError(t, err)

	e.service.RevokeRefreshTokens(e.member.ID)
	e.clock.Advance(10 * time.Minute)

	_, err = e.client.API.Profile(ctx)
	require.ErrorIs(t, err, model.ErrSessionExpired)

	_, ok := e.client.Sessions.Current(ctx)
	require.False(t, ok)
	_, ok = e.client.Creds.Get(ctx, biometric.RefreshTokenKey)
	require.False(t, ok)
	_, ok = e.client.Creds.Get(ctx, biometric.UserIDKey)
	require.False(t, ok)

	_, err = e.client.Biometrics.SignInWithBiometricRefresh(ctx, "")
	require.ErrorIs(t, err, model.ErrMissingBiometricToken)
}

func TestDeactivatedAccountTearsDownSession(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	e.login(t)

	require.NoError(t, e.service.Deactivate(e.member.ID))

	err := e.client.API.Call(ctx, http.MethodGet, "/api/events", nil, nil)
	require.ErrorIs(t, err, model.ErrAccountDeactivated)

	_, ok := e.client.Sessions.Current(ctx)
	require.False(t, ok)
}

func TestLogoutClearsBinding(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	s := e.login(t)

	_, err := e.client.Biometrics.EnableBiometrics(ctx, s)
	require.NoError(t, err)

	e.client.Auth.Logout(ctx)

	_, ok := e.client.Sessions.Current(ctx)
	require.False(t, ok)
	_, ok = e.client.Creds.Get(ctx, biometric.RefreshTokenKey)
	require.False(t, ok)
}

func TestEnableBiometricsAfterAccessTokenExpired(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	s := e.login(t)

	e.clock.Advance(10 * time.Minute)

	enabled, err := e.client.Biometrics.EnableBiometrics(ctx, s)
	require.NoError(t, err)
	require.True(t, enabled)

	live, ok := e.client.Sessions.Current(ctx)
	require.True(t, ok)
	require.NotEqual(t, s.RefreshToken, live.RefreshToken)
	bound, ok := e.client.Creds.Get(ctx, biometric.RefreshTokenKey)
	require.True(t, ok)
	require.Equal(t, live.RefreshToken, bound)

	e.client.Sessions.Clear(ctx)

	unlocked, err := e.client.Biometrics.SignInWithBiometricRefresh(ctx, "")
	require.NoError(t, err)
	require.Equal(t, e.member.ID, unlocked.ID)
}

func TestPasswordLoginOfAnotherUserDoesNotEnableForeignBinding(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	ctx := context.Background()
	s := e.login(t)

	_, err := e.client.Biometrics.EnableBiometrics(ctx, s)
	require.NoError(t, err)

	bob, err := e.service.SeedUser(model.Profile{Email: "bob@example.org", Name: "Bob"}, "bob-pass")
	require.NoError(t, err)
	_, err = e.service.UpdateSecuritySettings(bob.ID, model.SecuritySettings{BiometricsEnabled: true})
	require.NoError(t, err)

	e.client.Sessions.Clear(ctx)
	_, err = e.client.Auth.Login(ctx, "bob@example.org", "bob-pass")
	require.NoError(t, err)

	require.False(t, e.client.Biometrics.IsEnabled(ctx))
	boundUser, ok := e.client.Creds.Get(ctx, biometric.UserIDKey)
	require.True(t, ok)
	require.Equal(t, e.member.ID, boundUser)
}
