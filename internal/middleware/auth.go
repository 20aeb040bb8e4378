// Package middleware holds the HTTP middleware chain: bearer auth, rate
// limiting, CORS and request logging.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anwado/backend/internal/auth"
)

// Verifier checks a bearer token and returns the user id it names.
type Verifier interface {
	VerifyToken(token string) (string, error)
}

// RequireAuth rejects requests without a valid Authorization bearer token
// and stores the authenticated user id in the request context.
func RequireAuth(tokens Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			userID, err := tokens.VerifyToken(token)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
