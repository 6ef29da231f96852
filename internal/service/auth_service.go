// Package service holds the password flows that produce and end a Session.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go-session-client/internal/event"
	"go-session-client/internal/model"
	"go-session-client/internal/session"
)

type authAPI interface {
	Login(ctx context.Context, email string, password string) (model.LoginResponse, error)
	Profile(ctx context.Context) (model.Profile, error)
}

// Binding is the biometric side of login and logout.
type Binding interface {
	SyncBiometricRefreshToken(ctx context.Context, current model.Session)
	ClearBinding(ctx context.Context)
	SyncSettings(ctx context.Context) (bool, error)
}

type AuthService struct {
	api      authAPI
	sessions *session.Store
	binding  Binding
	bus      event.Bus
	log      *slog.Logger
}

func NewAuthService(api authAPI, sessions *session.Store, binding Binding, bus event.Bus, log *slog.Logger) *AuthService {
	if bus == nil {
		bus = event.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{api: api, sessions: sessions, binding: binding, bus: bus, log: log.With("component", "auth")}
}

// Login exchanges a password for a Session, persists it, and brings the biometric
// binding and the cached biometrics flag in line with the new account.
func (s *AuthService) Login(ctx context.Context, email string, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", model.ErrInvalidInput)
	}

	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	next := resp.Session()
	if err := s.sessions.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.bus.Publish(event.New(event.TypeSessionCreated, next.ID, ""))
	s.log.Info("signed in", "user_id", next.ID)

	if s.binding != nil {
		s.binding.SyncBiometricRefreshToken(ctx, next)
		if _, err := s.binding.SyncSettings(ctx); err != nil {
			s.log.Warn("security settings not synced after login", "user_id", next.ID, "error", err)
		}
	}

	return &next, nil
}

// Logout clears the Session and the biometric binding. It is safe to call without a Session.
func (s *AuthService) Logout(ctx context.Context) {
	var userID string
	if current, ok := s.sessions.Current(ctx); ok {
		userID = current.ID
	}

	s.sessions.Clear(ctx)
	if s.binding != nil {
		s.binding.ClearBinding(ctx)
	}

	s.bus.Publish(event.New(event.TypeSessionCleared, userID, event.ReasonLogout))
	s.log.Info("signed out", "user_id", userID)
}

// Profile fetches the profile through the Interceptor and folds it into the stored Session.
func (s *AuthService) Profile(ctx context.Context) (model.Profile, error) {
	if _, ok := s.sessions.Current(ctx); !ok {
		return model.Profile{}, model.ErrNoSession
	}

	profile, err := s.api.Profile(ctx)
	if err != nil {
		return model.Profile{}, err
	}

	_, err = s.sessions.Update(ctx, func(current *model.Session) (*model.Session, error) {
		if current == nil {
			return nil, model.ErrNoSession
		}
		if current.ID != "" && current.ID != profile.ID {
			return nil, fmt.Errorf("profile belongs to another user")
		}
		next := *current
		next.Profile = profile
		return &next, nil
	})
	if err != nil {
		s.log.Warn("stored profile not updated", "user_id", profile.ID, "error", err)
	}

	return profile, nil
}

func (s *AuthService) Current(ctx context.Context) (*model.Session, bool) {
	return s.sessions.Current(ctx)
}
