package model

// AuthClaims is what the sandbox backend reads back out of an access token.
type AuthClaims struct {
	UserID  string
	Email   string
	Roles   []string
	TokenID string
}

func (c *AuthClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
