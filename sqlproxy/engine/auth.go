package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthTokenExpired is returned when a JWT auth token has already expired.
var ErrAuthTokenExpired = errors.New("auth token has expired")

// nowFunc is replaced in tests.
var nowFunc = time.Now

// CheckAuthToken rejects JWT auth tokens whose exp claim has passed, so that
// an expired token fails fast instead of at the remote. The signature is not
// verified; the remote does that. Tokens that are not JWTs pass unchecked.
func CheckAuthToken(token string) error {
	if token == "" || strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid auth token: %w", err)
	}
	if exp != nil && !nowFunc().Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrAuthTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
