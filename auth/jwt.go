package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/graph"
)

// Middleware verifies an HMAC bearer token and, when valid, stores its claims
// as the request's graph.Caller user. Requests without a token or with an
// invalid one continue anonymously.
func Middleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := &graph.Caller{Request: r, Response: w}

			authHeader := r.Header.Get("Authorization")
			if tokenStr, ok := strings.CutPrefix(authHeader, "Bearer "); ok && len(secret) > 0 {
				claims, err := ParseToken(secret, tokenStr)
				if err != nil {
					logger.Debug("rejected bearer token", zap.Error(err))
				} else {
					caller.User = claims
				}
			}

			next.ServeHTTP(w, r.WithContext(graph.WithCaller(r.Context(), caller)))
		})
	}
}

// ParseToken validates tokenStr and returns its claims
func ParseToken(secret []byte, tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// NewToken signs an HS256 token for subject valid for ttl
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is not set")
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
