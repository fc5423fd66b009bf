package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims the middleware needs.
type Claims struct {
	Subject      string
	TokenVersion int
}

func sign(userID string, version int, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"ver": version,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func parse(tokenStr, secret string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, errors.New("invalid token")
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims")
	}
	sub, _ := mapClaims["sub"].(string)
	verFloat, _ := mapClaims["ver"].(float64)
	return Claims{Subject: sub, TokenVersion: int(verFloat)}, nil
}

// ParseAccessToken verifies an access token and returns its claims.
func ParseAccessToken(tokenStr, secret string) (Claims, error) {
	return parse(tokenStr, secret)
}
