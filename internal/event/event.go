package event

type Type string

const (
	TypeSessionCreated     Type = "session.created"
	TypeSessionRefreshed   Type = "session.refreshed"
	TypeSessionCleared     Type = "session.cleared"
	TypeBiometricsEnabled  Type = "biometrics.enabled"
	TypeBiometricsDisabled Type = "biometrics.disabled"
	TypeBiometricUnlocked  Type = "biometrics.unlocked"
)

// Reasons carried by TypeSessionCleared.
const (
	ReasonLogout             = "logout"
	ReasonRefreshFailed      = "refresh_failed"
	ReasonAccountDeactivated = "account_deactivated"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
