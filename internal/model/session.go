package model

import "strings"

// DefaultTokenType is the authorization scheme used when the backend does not echo one.
const DefaultTokenType = "Bearer"

// Session is the authenticated identity and its token pair.
// A stored Session always has both tokens; see Complete.
type Session struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"type"`
	Profile
}

// Complete reports whether the session carries both tokens and may be persisted.
func (s *Session) Complete() bool {
	return s != nil && strings.TrimSpace(s.AccessToken) != "" && strings.TrimSpace(s.RefreshToken) != ""
}

// AuthorizationHeader renders "<type> <token>", defaulting the type to Bearer.
func (s *Session) AuthorizationHeader() string {
	if s == nil || s.AccessToken == "" {
		return ""
	}
	return Authorization(s.TokenType, s.AccessToken)
}

// WithTokens returns a copy of s with the access and refresh tokens replaced.
func (s Session) WithTokens(accessToken string, refreshToken string) Session {
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	s.Roles = append([]string(nil), s.Roles...)
	return s
}

// SessionFromProfile composes a full Session from a fetched profile and a fresh token pair.
func SessionFromProfile(profile Profile, tokens TokenPair, tokenType string) Session {
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokenType,
		Profile:      profile,
	}
}

func Authorization(tokenType string, token string) string {
	if strings.TrimSpace(tokenType) == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + token
}
