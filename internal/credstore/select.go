package credstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-session-client/internal/config"
)

const (
	localFileName  = "credentials.json"
	secureFileName = "credentials.sealed"
)

// Platform reports whether the running platform can keep files on disk.
// Browser and WASI builds only get the in-memory backend.
func Platform() string {
	switch runtime.GOOS {
	case "js", "wasip1":
		return "web"
	default:
		return "native"
	}
}

// Select builds the Store for the configured backend on the detected platform.
// pool is only consulted for the postgres backend.
func Select(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if Platform() == "web" {
		log.Info("web platform detected; credentials are kept in memory only")
		return New(NewMemoryBackend(), nil, log), nil
	}

	switch cfg.CredentialBackend {
	case config.BackendMemory:
		return New(NewMemoryBackend(), nil, log), nil

	case config.BackendLocal:
		local, err := NewLocalFileBackend(filepath.Join(cfg.CredentialDir, localFileName))
		if err != nil {
			return nil, err
		}
		return New(local, NewMemoryBackend(), log), nil

	case config.BackendSecure:
		secure, err := NewSecureFileBackend(filepath.Join(cfg.CredentialDir, secureFileName), cfg.CredentialPassphrase)
		if err != nil {
			return nil, err
		}
		return New(secure, nil, log), nil

	case config.BackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres credential backend requires a database pool")
		}
		return New(NewPostgresBackend(pool, cfg.CredentialNamespace), nil, log), nil

	case config.BackendAuto, "":
		local, err := NewLocalFileBackend(filepath.Join(cfg.CredentialDir, localFileName))
		if err != nil {
			return nil, err
		}

		if cfg.CredentialPassphrase == "" {
			log.Warn("no credential passphrase configured; using best-effort local storage")
			return New(local, NewMemoryBackend(), log), nil
		}

		secure, err := NewSecureFileBackend(filepath.Join(cfg.CredentialDir, secureFileName), cfg.CredentialPassphrase)
		if err != nil {
			return nil, err
		}
		return New(secure, local, log), nil

	default:
		return nil, fmt.Errorf("unsupported credential backend %q", cfg.CredentialBackend)
	}
}
