// Package session persists the current Session under a single stable key and is the
// one source of truth the HTTP interceptor and the biometric bridge read from.
//
// Writes are all-or-nothing: a Session missing either token is never stored.
// Read-mutate-write sequences (refresh, unlock) go through Update, which holds a
// mutex so concurrent writers always leave a fully formed Session behind.
package session
