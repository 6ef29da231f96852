package transport

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiresWithin reports whether a JWT access token expires before now+skew.
// The signature is not checked: the client only uses exp as a refresh hint.
// Opaque or unparsable tokens never count as expiring.
func expiresWithin(token string, skew time.Duration, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !now.Add(skew).Before(exp.Time)
}
