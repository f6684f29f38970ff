package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ExpiryFromJWT extracts the exp claim from raw without verifying the
// signature. The token is opaque to us; the issuer is trusted.
func ExpiryFromJWT(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse jwt: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("parse jwt: missing exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
