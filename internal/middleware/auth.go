package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"acctshop-api/pkg/apierror"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	APIKeys []string
}

// NewAuthMiddleware accepts requests carrying one of the configured API keys
// in X-API-Key or an Authorization bearer header.
// With no keys configured every request is rejected.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				writeError(w, apierror.Unauthorized("Authentication required. Use the X-API-Key header."))
				return
			}
			if !isValidKey(apiKey, cfg.APIKeys) {
				writeError(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewAdminMiddleware guards operator endpoints with the X-Login-Key header.
// An empty loginKey disables the endpoints.
func NewAdminMiddleware(loginKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if loginKey == "" {
				writeError(w, apierror.Forbidden("Admin access is not configured"))
				return
			}

			key := r.Header.Get("X-Login-Key")
			if key == "" {
				writeError(w, apierror.Unauthorized("X-Login-Key header required"))
				return
			}
			if !isValidKey(key, []string{loginKey}) {
				writeError(w, apierror.Unauthorized("Invalid login key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
