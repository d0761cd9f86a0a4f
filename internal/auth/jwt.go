package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"relay-api/internal/shared"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var ErrTokenExpired = errors.New("session token expired")

// JWTAuthenticator verifies HS256 session tokens issued by the auth service.
// The subject claim carries the numeric user id.
type JWTAuthenticator struct {
	secret []byte
	log    *zap.SugaredLogger
}

func NewJWTAuthenticator(secret string, log *zap.SugaredLogger) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTAuthenticator{secret: []byte(secret), log: log}, nil
}

func (j *JWTAuthenticator) Authenticate(_ context.Context, token string) (uint64, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			j.log.Debugw("Expired session token", "error", err)
			return 0, errors.Join(shared.ErrUnauthorized, ErrTokenExpired)
		}
		j.log.Debugw("Invalid session token", "error", err)
		return 0, errors.Join(shared.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return 0, shared.ErrUnauthorized
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		j.log.Warnw("Session token with invalid subject", "subject", claims.Subject)
		return 0, errors.Join(shared.ErrUnauthorized, fmt.Errorf("invalid subject %q", claims.Subject))
	}
	return userID, nil
}

// IssueToken signs a session token for userID. Used by tooling and tests.
func (j *JWTAuthenticator) IssueToken(userID uint64, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatUint(userID, 10)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
