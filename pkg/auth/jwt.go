package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "silva"

var (
	ErrNotConfigured = errors.New("SERVER_AUTH_SECRET not configured")
	ErrInvalidToken  = errors.New("invalid token claims")
)

type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a token for subject. A zero ttl issues a token that never expires.
func (g *Guard) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !g.Enabled() {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

func (g *Guard) ValidateToken(tokenString string) (*Claims, error) {
	if !g.Enabled() {
		return nil, ErrNotConfigured
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
