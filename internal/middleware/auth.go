package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

type contextKey string

const callerContextKey contextKey = "caller"

// CallerFromContext extracts the authenticated caller id from the request context
func CallerFromContext(r *http.Request) string {
	caller, ok := r.Context().Value(callerContextKey).(string)
	if !ok {
		return ""
	}
	return caller
}

// Auth creates authentication middleware validating HS256 bearer tokens
// signed with the shared secret. The token subject identifies the calling
// front-end (a chat gateway, not an end user).
func Auth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondAuthError(w, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondAuthError(w, "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse([]byte(parts[1]),
				jwt.WithKey(jwa.HS256, key),
				jwt.WithValidate(true),
			)
			if err != nil {
				logger.Warn("token verification failed", zap.Error(err))
				respondAuthError(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey, token.Subject())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"error":     "Unauthorized",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
