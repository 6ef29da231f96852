package sandbox

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *clock, model.Profile) {
	t.Helper()

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService("test-secret", 5*time.Minute, time.Hour, WithNowTime(c.Now), WithBcryptCost(bcrypt.MinCost))

	profile, err := svc.SeedUser(model.Profile{Email: "Ana@Example.org", Name: "Ana", Age: 31}, "secret-pass")
	require.NoError(t, err)

	return svc, c, profile
}

func TestSeedUserDefaults(t *testing.T) {
	t.Parallel()

	svc, _, profile := newTestService(t)
	require.NotEmpty(t, profile.ID)
	require.Equal(t, "ana@example.org", profile.Email)
	require.Equal(t, []string{"MEMBER"}, profile.Roles)

	_, err := svc.SeedUser(model.Profile{Email: "ana@example.org"}, "x")
	require.True(t, apierror.HasCode(err, apierror.CodeAlreadyExists))
}

func TestLogin(t *testing.T) {
	t.Parallel()

	svc, _, profile := newTestService(t)

	resp, err := svc.Login("ANA@example.org ", "secret-pass")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, model.DefaultTokenType, resp.Type)
	require.Equal(t, profile.ID, resp.ID)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, profile.ID, claims.UserID)
	require.True(t, claims.HasRole("MEMBER"))

	_, err = svc.Login("ana@example.org", "wrong")
	require.True(t, apierror.HasStatus(err, http.StatusUnauthorized))

	_, err = svc.Login("nobody@example.org", "secret-pass")
	require.True(t, apierror.HasStatus(err, http.StatusUnauthorized))
}

func TestRefreshIsSingleUse(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	resp, err := svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)

	pair, err := svc.Refresh(resp.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, resp.RefreshToken, pair.RefreshToken)

	_, err = svc.Refresh(resp.RefreshToken)
	require.True(t, apierror.HasCode(err, apierror.CodeUnauthorized))

	_, err = svc.Refresh(pair.RefreshToken)
	require.NoError(t, err)
}

func TestAccessTokenExpires(t *testing.T) {
	t.Parallel()

	svc, c, _ := newTestService(t)
	resp, err := svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)

	c.now = c.now.Add(6 * time.Minute)
	_, err = svc.ValidateToken(resp.Token)
	require.True(t, apierror.HasCode(err, apierror.CodeUnauthorized))
}

func TestRefreshTokenExpires(t *testing.T) {
	t.Parallel()

	svc, c, _ := newTestService(t)
	resp, err := svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)

	c.now = c.now.Add(2 * time.Hour)
	_, err = svc.Refresh(resp.RefreshToken)
	require.True(t, apierror.HasCode(err, apierror.CodeUnauthorized))
}

func TestDeactivate(t *testing.T) {
	t.Parallel()

	svc, _, profile := newTestService(t)
	resp, err := svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(profile.ID))

	_, err = svc.ValidateToken(resp.Token)
	require.True(t, apierror.HasCode(err, apierror.CodeAccountDeactivated))

	_, err = svc.Refresh(resp.RefreshToken)
	require.True(t, apierror.HasCode(err, apierror.CodeUnauthorized))

	_, err = svc.Login("ana@example.org", "secret-pass")
	require.True(t, apierror.HasCode(err, apierror.CodeAccountDeactivated))

	require.True(t, apierror.HasCode(svc.Deactivate("missing"), apierror.CodeNotFound))
}

func TestSecuritySettings(t *testing.T) {
	t.Parallel()

	svc, _, profile := newTestService(t)

	settings, err := svc.SecuritySettings(profile.ID)
	require.NoError(t, err)
	require.False(t, settings.BiometricsEnabled)

	settings, err = svc.UpdateSecuritySettings(profile.ID, model.SecuritySettings{BiometricsEnabled: true})
	require.NoError(t, err)
	require.True(t, settings.BiometricsEnabled)

	settings, err = svc.SecuritySettings(profile.ID)
	require.NoError(t, err)
	require.True(t, settings.BiometricsEnabled)
}

func TestRevokeRefreshTokens(t *testing.T) {
	t.Parallel()

	svc, _, profile := newTestService(t)
	first, err := svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)
	_, err = svc.Login("ana@example.org", "secret-pass")
	require.NoError(t, err)

	require.Equal(t, 2, svc.RevokeRefreshTokens(profile.ID))

	_, err = svc.Refresh(first.RefreshToken)
	require.Error(t, err)
}
