package middleware

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "X-API-Key"

// Auth rejects requests without a valid API key.
func Auth(repo domain.APIKeyRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				logger.Warn("API key missing", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				unauthorized(w, "API key required")
				return
			}

			ok, err := repo.IsValid(r.Context(), key)
			if err != nil {
				logger.Error("Failed to validate API key", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":false,"error":"internal_error"}`))
				return
			}
			if !ok {
				logger.Warn("Invalid api key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized","message":"` + msg + `"}`))
}
