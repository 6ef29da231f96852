package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendAuto     = "auto"
	BackendSecure   = "secure"
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	DeviceNone    = "none"
	DeviceConsole = "console"
)

// Config drives the client side: where the backend lives and how credentials are kept.
type Config struct {
	APIBaseURL           string
	RequestTimeout       time.Duration
	CredentialBackend    string
	CredentialDir        string
	CredentialPassphrase string
	CredentialNamespace  string
	DatabaseURL          string
	DBMaxConns           int32
	DBMinConns           int32
	RefreshCoalesce      bool
	ProactiveRefreshSkew time.Duration
	OutgoingRateLimitRPM int
	BiometricDevice      string
	LogLevel             slog.Level
}

// SandboxConfig drives the local development backend.
type SandboxConfig struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	JWTSecret          string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	CORSOrigins        []string
	RateLimitRPM       int
	AuthRateLimitRPM   int
	BcryptCost         int
	LogLevel           slog.Level
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:           strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		RequestTimeout:       getDuration("REQUEST_TIMEOUT", 30*time.Second),
		CredentialBackend:    strings.ToLower(getEnv("CREDENTIAL_BACKEND", BackendAuto)),
		CredentialDir:        getEnv("CREDENTIAL_DIR", defaultCredentialDir()),
		CredentialPassphrase: os.Getenv("CREDENTIAL_PASSPHRASE"),
		CredentialNamespace:  getEnv("CREDENTIAL_NAMESPACE", "default"),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:           int32(getInt("DB_MAX_CONNS", 4)),
		DBMinConns:           int32(getInt("DB_MIN_CONNS", 0)),
		RefreshCoalesce:      getBool("REFRESH_COALESCE", true),
		ProactiveRefreshSkew: getDuration("PROACTIVE_REFRESH_SKEW", 0),
		OutgoingRateLimitRPM: getInt("OUTGOING_RATE_LIMIT_RPM", 0),
		BiometricDevice:      strings.ToLower(getEnv("BIOMETRIC_DEVICE", DeviceNone)),
		LogLevel:             getLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.CredentialBackend {
	case BackendAuto, BackendLocal, BackendMemory:
	case BackendSecure:
		if c.CredentialPassphrase == "" {
			return fmt.Errorf("CREDENTIAL_PASSPHRASE is required for the secure backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("CREDENTIAL_BACKEND %q is not supported", c.CredentialBackend)
	}

	if strings.TrimSpace(c.CredentialDir) == "" && c.CredentialBackend != BackendMemory && c.CredentialBackend != BackendPostgres {
		return fmt.Errorf("CREDENTIAL_DIR cannot be empty")
	}

	if c.ProactiveRefreshSkew < 0 {
		return fmt.Errorf("PROACTIVE_REFRESH_SKEW cannot be negative")
	}

	if c.BiometricDevice != DeviceNone && c.BiometricDevice != DeviceConsole {
		return fmt.Errorf("BIOMETRIC_DEVICE %q is not supported", c.BiometricDevice)
	}

	return nil
}

func LoadSandbox() (*SandboxConfig, error) {
	_ = godotenv.Load()

	cfg := &SandboxConfig{
		ServerPort:         getEnv("SANDBOX_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		JWTSecret:          strings.TrimSpace(os.Getenv("SANDBOX_JWT_SECRET")),
		AccessTTL:          getDuration("SANDBOX_ACCESS_TTL", 5*time.Minute),
		RefreshTTL:         getDuration("SANDBOX_REFRESH_TTL", 168*time.Hour),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 600),
		AuthRateLimitRPM:   getInt("AUTH_RATE_LIMIT_RPM", 60),
		BcryptCost:         getInt("SANDBOX_BCRYPT_COST", 12),
		LogLevel:           getLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *SandboxConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("SANDBOX_JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SANDBOX_PORT cannot be empty")
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("SANDBOX_ACCESS_TTL and SANDBOX_REFRESH_TTL must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("SANDBOX_BCRYPT_COST must be between 4 and 31")
	}

	return nil
}

func defaultCredentialDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "./state"
	}
	return dir + string(os.PathSeparator) + "community-session"
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}

	return level
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
