package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers bad signatures, expired tokens and empty subjects.
var ErrInvalidToken = errors.New("invalid token")

type customClaims struct {
	jwt.RegisteredClaims
}

// IssueToken 签发以 utorid 为 subject 的 HS256 令牌，返回令牌与过期时间。
func IssueToken(secret []byte, utorid string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   utorid,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// ParseToken 校验签名与过期时间，返回 subject（utorid）。
func ParseToken(secret []byte, tokenStr string) (string, error) {
	claims := &customClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
