package model

import "errors"

var (
	// Session related errors
	ErrNoSession           = errors.New("no active session")
	ErrIncompleteSession   = errors.New("session is missing an access or refresh token")
	ErrSessionNotPersisted = errors.New("session was not persisted")
	ErrSessionExpired      = errors.New("session expired")
	ErrRefreshRejected     = errors.New("refresh token rejected")
	ErrAccountDeactivated  = errors.New("account deactivated")

	// Biometric related errors
	ErrSessionRequired       = errors.New("biometrics require a live session with a refresh token")
	ErrBiometricsUnavailable = errors.New("biometrics_unavailable")
	ErrBiometricAuthFailed   = errors.New("biometric_auth_failed")
	ErrMissingBiometricToken = errors.New("missing_biometric_token")
	ErrSettingsUpdateFailed  = errors.New("security settings update failed")

	// Credential store errors
	ErrNotFound = errors.New("key not found")

	// Permission/Access related errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
