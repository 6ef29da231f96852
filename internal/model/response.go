package model

// LoginResponse is the flat login payload: tokens and profile fields side by side.
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Type         string `json:"type"`
	Profile
}

// Session converts a login response into a Session.
func (r LoginResponse) Session() Session {
	tokenType := r.Type
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return Session{
		AccessToken:  r.Token,
		RefreshToken: r.RefreshToken,
		TokenType:    tokenType,
		Profile:      r.Profile,
	}
}

// TokenPair is the refresh exchange result.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
