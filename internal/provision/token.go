package provision

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotJWT = errors.New("token is not a jwt")

// TokenExpiry reads the exp claim without verifying the signature; the
// server is the one that checks it. A token without exp returns the zero
// time.
func TokenExpiry(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, ErrNotJWT
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, errors.Join(ErrNotJWT, err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
