package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go-session-client/internal/model"
)

// Key is the credential-store key holding the serialized Session. It must stay stable
// across releases so upgraded installs keep their login.
const Key = "session"

// CredentialStore is the subset of credstore.Store the session layer needs.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string) bool
	Delete(ctx context.Context, key string) bool
}

type Store struct {
	creds CredentialStore
	log   *slog.Logger
	mu    sync.Mutex
}

func NewStore(creds CredentialStore, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{creds: creds, log: log.With("component", "session")}
}

// Current returns the stored Session. Missing, malformed or incomplete data reads as absent.
func (s *Store) Current(ctx context.Context) (*model.Session, bool) {
	raw, ok := s.creds.Get(ctx, Key)
	if !ok || raw == "" {
		return nil, false
	}

	var current model.Session
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		s.log.Warn("stored session is malformed; treating as absent", "error", err)
		return nil, false
	}

	if !current.Complete() {
		s.log.Warn("stored session is incomplete; treating as absent", "user_id", current.ID)
		return nil, false
	}

	return &current, true
}

// Set replaces the stored Session in full. Callers merge fields before calling.
func (s *Store) Set(ctx context.Context, next model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLocked(ctx, next)
}

// Clear removes the stored Session.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked(ctx)
}

// Update runs fn against the current Session (nil when absent) while holding the write lock.
// A non-nil result is persisted; a nil result with a nil error clears the Session.
// Any error from fn leaves storage untouched and is returned as is.
func (s *Store) Update(ctx context.Context, fn func(current *model.Session) (*model.Session, error)) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.Current(ctx)

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	if next == nil {
		s.clearLocked(ctx)
		return nil, nil
	}

	if err := s.setLocked(ctx, *next); err != nil {
		return nil, err
	}

	return next, nil
}

func (s *Store) setLocked(ctx context.Context, next model.Session) error {
	if !next.Complete() {
		return model.ErrIncompleteSession
	}

	if next.TokenType == "" {
		next.TokenType = model.DefaultTokenType
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}

	s.creds.Set(ctx, Key, string(raw))

	// The credential store never reports why a write failed, so confirm it landed.
	stored, ok := s.creds.Get(ctx, Key)
	if !ok || stored != string(raw) {
		s.log.Error("session write could not be confirmed", "user_id", next.ID)
		return model.ErrSessionNotPersisted
	}

	return nil
}

func (s *Store) clearLocked(ctx context.Context) {
	if !s.creds.Delete(ctx, Key) {
		s.log.Warn("session could not be removed from storage")
	}
}
