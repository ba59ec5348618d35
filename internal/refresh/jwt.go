package refresh

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// tokenExpiry extracts the exp claim from an access token without verifying
// the signature. It is a fallback for servers that omit the expiry from the
// refresh response; the client never trusts the claim for anything beyond
// scheduling. Returns the zero time when the token is opaque or has no exp,
// which the staleness rule treats as "refresh on next use".
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Debug().Err(err).Msg("access token is not a parseable JWT")
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
