package biometric

import (
	"fmt"

	"go-session-client/internal/model"
)

// PromptError reports a failed or cancelled prompt with the platform's reason code.
// It unwraps to model.ErrBiometricAuthFailed.
type PromptError struct {
	Reason string
	Err    error
}

func (e *PromptError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", model.ErrBiometricAuthFailed, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", model.ErrBiometricAuthFailed, e.Reason)
	default:
		return model.ErrBiometricAuthFailed.Error()
	}
}

func (e *PromptError) Unwrap() []error {
	if e.Err != nil {
		return []error{model.ErrBiometricAuthFailed, e.Err}
	}
	return []error{model.ErrBiometricAuthFailed}
}
