package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/usecase"
)

// AdminHandler serves the queue administration API.
type AdminHandler struct {
	uc     *usecase.AdminStreamUseCase
	logger *slog.Logger
}

func NewAdminHandler(uc *usecase.AdminStreamUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger.With("component", "admin_handler")}
}

// HealthCheck reports liveness.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// Overview lists every queue stream with its consumer groups.
// GET /admin/queues
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, h.uc.Overview(r.Context()))
}

// GetGroupInfo lists the consumer groups of a stream.
// GET /admin/queues/{stream}/groups
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	groups, err := h.uc.GetGroupInfo(r.Context(), stream)
	if err != nil {
		h.internalError(w, "failed to get group info", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, groups)
}

// GET /admin/queues/{stream}/groups/{group}/consumers
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")
	consumers, err := h.uc.GetConsumerInfo(r.Context(), stream, group)
	if err != nil {
		h.internalError(w, "failed to get consumer info", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, consumers)
}

// GET /admin/queues/{stream}/groups/{group}/pending
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")
	summary, err := h.uc.GetPendingSummary(r.Context(), stream, group)
	if err != nil {
		h.internalError(w, "failed to get pending summary", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, summary)
}

// GetPendingMessages lists pending deliveries.
// GET /admin/queues/{stream}/groups/{group}/pending/messages?consumer=&start=&count=
func (h *AdminHandler) GetPendingMessages(w http.ResponseWriter, r *http.Request) {
	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")
	q := r.URL.Query()

	count, ok := h.countParam(w, q.Get("count"), 100)
	if !ok {
		return
	}
	messages, err := h.uc.GetPendingMessages(r.Context(), stream, group, q.Get("consumer"), q.Get("start"), count)
	if err != nil {
		h.internalError(w, "failed to get pending messages", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, messages)
}

// ClaimMessages moves idle pending messages to another consumer.
// POST /admin/queues/{stream}/groups/{group}/claim
func (h *AdminHandler) ClaimMessages(w http.ResponseWriter, r *http.Request) {
	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")

	var req struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		MessageIDs  []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Consumer == "" || len(req.MessageIDs) == 0 {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "consumer and message_ids are required")
		return
	}
	minIdle, err := time.ParseDuration(req.MinIdleTime)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid min_idle_time")
		return
	}

	claimed, err := h.uc.ClaimMessages(r.Context(), stream, group, req.Consumer, minIdle, req.MessageIDs)
	if err != nil {
		h.internalError(w, "failed to claim messages", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, claimed)
}

// POST /admin/queues/{stream}/groups/{group}/ack
func (h *AdminHandler) AcknowledgeMessages(w http.ResponseWriter, r *http.Request) {
	stream, group := chi.URLParam(r, "stream"), chi.URLParam(r, "group")

	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MessageIDs) == 0 {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "message_ids cannot be empty")
		return
	}

	n, err := h.uc.AcknowledgeMessages(r.Context(), stream, group, req.MessageIDs...)
	if err != nil {
		h.internalError(w, "failed to acknowledge messages", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]int64{"acknowledged": n})
}

// POST /admin/queues/{stream}/trim
func (h *AdminHandler) TrimStream(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")

	var req struct {
		MaxLen int64 `json:"maxlen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxLen <= 0 {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "maxlen must be a positive integer")
		return
	}

	n, err := h.uc.TrimStream(r.Context(), stream, req.MaxLen)
	if err != nil {
		h.internalError(w, "failed to trim stream", err, stream)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]int64{"trimmed": n})
}

// ListDeadLetters returns the newest abandoned jobs.
// GET /admin/queues/dead-letters?count=
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	count, ok := h.countParam(w, r.URL.Query().Get("count"), 50)
	if !ok {
		return
	}
	letters, err := h.uc.ListDeadLetters(r.Context(), count)
	if err != nil {
		h.internalError(w, "failed to list dead letters", err, "")
		return
	}
	respondJSON(w, h.logger, http.StatusOK, letters)
}

func (h *AdminHandler) countParam(w http.ResponseWriter, raw string, def int64) (int64, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		respondError(w, h.logger, http.StatusBadRequest, "validation_error", "invalid count parameter")
		return 0, false
	}
	return n, true
}

func (h *AdminHandler) internalError(w http.ResponseWriter, msg string, err error, stream string) {
	if errors.Is(err, domain.ErrUnknownQueue) {
		respondError(w, h.logger, http.StatusNotFound, "not_found", err.Error())
		return
	}
	h.logger.Error(msg, "error", err, "stream", stream)
	respondError(w, h.logger, http.StatusInternalServerError, "internal_error", "")
}
