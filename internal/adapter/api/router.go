package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/V4T54L/survey-sentinel/internal/adapter/api/handler"
	"github.com/V4T54L/survey-sentinel/internal/adapter/api/middleware"
)

// NewRouter builds the public ingest router.
func NewRouter(logger *slog.Logger, capture *handler.CaptureHandler, live http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/analytics", func(r chi.Router) {
		r.Post("/capture", capture.Capture)
		r.Get("/capture", capture.Query)
		if live != nil {
			r.Get("/live", live.ServeHTTP)
		}
	})

	return r
}
