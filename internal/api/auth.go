package api

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var defaultTokenExpiration = time.Hour * 24

const (
	userCodeClaim = "user_code"
	expClaim      = "exp"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

// createJwt issues a signed token binding the user code for the given
// lifetime.
func createJwt(signingKey []byte, userCode string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userCodeClaim: userCode,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

func userCodeFromToken(signingKey []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userCode, ok := claims[userCodeClaim].(string)
	if !ok {
		return "", fmt.Errorf("invalid user code claim")
	}

	return userCode, nil
}

// TokenVerifier resolves tokens for both the HTTP middleware and the
// chat server's socket authentication.
type TokenVerifier struct {
	signingKey []byte
}

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{signingKey: signingKey}
}

func (v *TokenVerifier) UserCodeFromToken(tokenString string) (string, error) {
	return userCodeFromToken(v.signingKey, tokenString)
}
