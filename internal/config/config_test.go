package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.org/")
	t.Setenv("CREDENTIAL_DIR", t.TempDir())
	t.Setenv("CREDENTIAL_BACKEND", "")
	t.Setenv("REFRESH_COALESCE", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "https://api.example.org", cfg.APIBaseURL)
	require.Equal(t, BackendAuto, cfg.CredentialBackend)
	require.True(t, cfg.RefreshCoalesce)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			APIBaseURL:        "http://localhost:8080",
			RequestTimeout:    time.Second,
			CredentialBackend: BackendLocal,
			CredentialDir:     "./state",
			BiometricDevice:   DeviceNone,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.APIBaseURL = "not a url"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.CredentialBackend = BackendSecure
	require.ErrorContains(t, cfg.Validate(), "CREDENTIAL_PASSPHRASE")

	cfg = base()
	cfg.CredentialBackend = BackendPostgres
	require.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg = base()
	cfg.CredentialBackend = "keychain"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.BiometricDevice = "retina"
	require.Error(t, cfg.Validate())
}

func TestLoadSandboxRequiresSecret(t *testing.T) {
	t.Setenv("SANDBOX_JWT_SECRET", "")

	_, err := LoadSandbox()
	require.ErrorContains(t, err, "SANDBOX_JWT_SECRET")

	t.Setenv("SANDBOX_JWT_SECRET", "dev-secret")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadSandbox()
	require.NoError(t, err)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}
