// Package credstore keeps small string credentials under stable keys.
//
// Backends report failures explicitly. Store wraps a primary backend and an
// optional best-effort fallback and never surfaces storage errors to callers:
// reads degrade to "absent" and writes report false.
package credstore

import (
	"context"
	"errors"
	"log/slog"

	"go-session-client/internal/model"
)

// Backend is a durable key/value store. Get returns model.ErrNotFound for a missing key.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

type Store struct {
	primary  Backend
	fallback Backend
	log      *slog.Logger
}

func New(primary Backend, fallback Backend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{primary: primary, fallback: fallback, log: log.With("component", "credstore")}
}

// Backends names the configured backends, primary first.
func (s *Store) Backends() []string {
	names := []string{s.primary.Name()}
	if s.fallback != nil {
		names = append(names, s.fallback.Name())
	}
	return names
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, true
	}
	if !errors.Is(err, model.ErrNotFound) {
		s.log.Warn("credential read failed", "backend", s.primary.Name(), "key", key, "error", err)
	}

	if s.fallback == nil {
		return "", false
	}

	value, err = s.fallback.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn("credential read failed", "backend", s.fallback.Name(), "key", key, "error", err)
		}
		return "", false
	}

	return value, true
}

func (s *Store) Set(ctx context.Context, key string, value string) bool {
	err := s.primary.Set(ctx, key, value)
	if err == nil {
		if s.fallback != nil {
			// A copy written during an outage must not shadow the primary later.
			if delErr := s.fallback.Delete(ctx, key); delErr != nil {
				s.log.Debug("fallback cleanup failed", "backend", s.fallback.Name(), "key", key, "error", delErr)
			}
		}
		return true
	}

	s.log.Warn("credential write failed", "backend", s.primary.Name(), "key", key, "error", err)
	if s.fallback == nil {
		return false
	}

	if err := s.fallback.Set(ctx, key, value); err != nil {
		s.log.Warn("credential write failed", "backend", s.fallback.Name(), "key", key, "error", err)
		return false
	}

	s.log.Info("credential stored in fallback backend", "backend", s.fallback.Name(), "key", key)
	return true
}

func (s *Store) Delete(ctx context.Context, key string) bool {
	ok := true
	if err := s.primary.Delete(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
		s.log.Warn("credential delete failed", "backend", s.primary.Name(), "key", key, "error", err)
		ok = false
	}

	if s.fallback != nil {
		if err := s.fallback.Delete(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
			s.log.Warn("credential delete failed", "backend", s.fallback.Name(), "key", key, "error", err)
			ok = false
		}
	}

	return ok
}
