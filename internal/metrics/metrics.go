// Package metrics exposes counters for the session state machine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCoalesced = "coalesced"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
)

type Session struct {
	Refresh         *prometheus.CounterVec
	Retry           *prometheus.CounterVec
	BiometricUnlock *prometheus.CounterVec
}

// New registers the session counters with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Session {
	m := &Session{
		Refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "refresh_total",
			Help:      "Refresh protocol exchanges by outcome.",
		}, []string{"outcome"}),
		Retry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "retry_total",
			Help:      "Requests re-dispatched after an authorization failure, by final outcome.",
		}, []string{"outcome"}),
		BiometricUnlock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biometric_unlock_total",
			Help: "Biometric unlock attempts by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.Refresh, m.Retry, m.BiometricUnlock)
	}

	return m
}

// Nop returns unregistered counters for callers that do not export metrics.
func Nop() *Session {
	return New(nil)
}
