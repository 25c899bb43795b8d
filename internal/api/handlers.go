// Package api exposes the local companion API consumed by the app UI:
// queue CRUD, sync triggers, and status. It binds to localhost only.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
	"github.com/nathant8883/mtg-leaderboard/internal/update"
)

// ConnectionStatus reports the current link to the leaderboard server.
type ConnectionStatus interface {
	Online() bool
	Metered() bool
}

// Handler implements the API handlers
type Handler struct {
	svc     *service.Service
	status  ConnectionStatus
	gate    *update.Gate
	version string
}

// NewHandler creates a new Handler over the queue coordinator.
func NewHandler(svc *service.Service, status ConnectionStatus, gate *update.Gate, version string) *Handler {
	return &Handler{
		svc:     svc,
		status:  status,
		gate:    gate,
		version: version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.PendingCount(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"queued":  count,
	})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.PendingCount(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":  h.status.Online(),
		"metered": h.status.Metered(),
		"queued":  count,
		"version": h.version,
	})
}

type enqueueRequest struct {
	Match     match.Result                `json:"match"`
	Snapshots []queue.ParticipantSnapshot `json:"participant_snapshots,omitempty"`
}

// EnqueueMatch handles POST /api/v1/queue
func (h *Handler) EnqueueMatch(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	rec, err := h.svc.Enqueue(r.Context(), req.Match, req.Snapshots)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListQueue handles GET /api/v1/queue
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matches": recs,
		"count":   len(recs),
	})
}

// QueueCount handles GET /api/v1/queue/count
func (h *Handler) QueueCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.PendingCount(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// GetQueued handles GET /api/v1/queue/{id}
func (h *Handler) GetQueued(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteQueued handles DELETE /api/v1/queue/{id}
func (h *Handler) DeleteQueued(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequeueMatch handles PUT /api/v1/queue/{id}: replace a failed record's
// payload with a corrected result and reset it for delivery.
func (h *Handler) RequeueMatch(w http.ResponseWriter, r *http.Request) {
	var result match.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	rec, err := h.svc.Requeue(r.Context(), chi.URLParam(r, "id"), result)
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type syncOutcome struct {
	Synced   bool   `json:"synced"`
	ServerID string `json:"server_id,omitempty"`
	Error    *struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		UserAction string `json:"user_action"`
	} `json:"error,omitempty"`
}

// SyncQueued handles POST /api/v1/queue/{id}/sync. A delivery failure is a
// normal outcome of a sync request, not an API error, so it comes back as
// 200 with the classification the UI needs to prompt the right action.
func (h *Handler) SyncQueued(w http.ResponseWriter, r *http.Request) {
	var outcome syncOutcome
	err := h.svc.SyncOne(r.Context(), chi.URLParam(r, "id"), syncer.Callbacks{
		OnSuccess: func(rec queue.QueuedMatch, serverID string) {
			outcome.Synced = true
			outcome.ServerID = serverID
		},
		OnError: func(rec queue.QueuedMatch, derr *transport.DeliveryError) {
			outcome.Error = &struct {
				Code       string `json:"code"`
				Message    string `json:"message"`
				UserAction string `json:"user_action"`
			}{
				Code:       string(derr.Class),
				Message:    derr.Message,
				UserAction: derr.Class.UserAction(),
			}
		},
	})
	if err != nil {
		var derr *transport.DeliveryError
		if !errors.As(err, &derr) {
			MapServiceError(w, r, err)
			return
		}
		// Delivery errors already populated the outcome via the callback.
	}

	writeJSON(w, http.StatusOK, outcome)
}

// SyncQueue handles POST /api/v1/queue/sync: a user-requested full pass.
func (h *Handler) SyncQueue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.SyncAll(r.Context(), service.SyncManual, service.SyncAllCallbacks{})
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// UpdateReadiness handles GET /api/v1/update/readiness
func (h *Handler) UpdateReadiness(w http.ResponseWriter, r *http.Request) {
	ready, err := h.gate.Ready(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}
	msg, err := h.gate.Describe(r.Context())
	if err != nil {
		MapServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready":   ready,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
