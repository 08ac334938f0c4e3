package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/survey-sentinel/internal/adapter/api/handler"
	"github.com/V4T54L/survey-sentinel/internal/adapter/api/middleware"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// NewAdminRouter builds the operator router: health and metrics are open,
// queue administration requires an API key. admin may be nil when no broker
// is configured.
func NewAdminRouter(logger *slog.Logger, admin *handler.AdminHandler, keys domain.APIKeyRepository, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if admin == nil {
		return r
	}
	r.Route("/admin/queues", func(r chi.Router) {
		r.Use(middleware.Auth(keys, logger))

		r.Get("/", admin.Overview)
		r.Get("/dead-letters", admin.ListDeadLetters)
		r.Get("/{stream}/groups", admin.GetGroupInfo)
		r.Get("/{stream}/groups/{group}/consumers", admin.GetConsumerInfo)
		r.Get("/{stream}/groups/{group}/pending", admin.GetPendingSummary)
		r.Get("/{stream}/groups/{group}/pending/messages", admin.GetPendingMessages)
		r.Post("/{stream}/groups/{group}/claim", admin.ClaimMessages)
		r.Post("/{stream}/groups/{group}/ack", admin.AcknowledgeMessages)
		r.Post("/{stream}/trim", admin.TrimStream)
	})

	return r
}
