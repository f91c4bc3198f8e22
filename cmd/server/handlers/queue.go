// Package handlers provides REST API handlers for the offline write queue.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/monitor"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/queue"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/scheduler"
)

// QueueBroadcaster interface for queue WebSocket events.
type QueueBroadcaster interface {
	BroadcastOperationEnqueued(op models.Operation)
	BroadcastFailedCleared(count int)
	BroadcastFailedRequeued(count int)
}

// QueueHandler handles queue inspection and mutation endpoints.
type QueueHandler struct {
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	wsHub     QueueBroadcaster
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(q *queue.Queue, s *scheduler.Scheduler, m *monitor.Monitor) *QueueHandler {
	return &QueueHandler{
		queue:     q,
		scheduler: s,
		monitor:   m,
	}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting queue events.
func (h *QueueHandler) SetWebSocketHub(wsHub QueueBroadcaster) {
	h.wsHub = wsHub
}

// enqueueRequest is the POST /api/queue/operations body.
type enqueueRequest struct {
	Kind       string          `json:"kind"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OwnerScope string          `json:"owner_scope"`
	Payload    json.RawMessage `json:"payload"`
}

// Enqueue handles POST /api/queue/operations.
// Records a local mutation for eventual delivery and returns the operation id.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "Invalid request body")
		return
	}

	// Creates may arrive without an entity id; assign one client-side so
	// the operation addresses the same entity on every delivery attempt.
	if req.EntityID == "" && models.OperationKind(req.Kind) == models.OperationCreate {
		req.EntityID = uuid.New().String()
	}

	id, err := h.queue.Enqueue(
		models.OperationKind(req.Kind),
		models.EntityType(req.EntityType),
		req.EntityID,
		req.OwnerScope,
		req.Payload,
	)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalid) {
			writeError(w, http.StatusBadRequest, apperrors.CodeOf(err), err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), "Failed to enqueue operation")
		return
	}

	if h.wsHub != nil {
		if op, ok := h.queue.Get(id); ok {
			h.wsHub.BroadcastOperationEnqueued(op)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        id,
		"entity_id": req.EntityID,
	})
}

// ListAll handles GET /api/queue/operations.
func (h *QueueHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	ops := h.queue.ListAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// ListPending handles GET /api/queue/pending.
func (h *QueueHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ops := h.queue.ListPending()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// ListFailed handles GET /api/queue/failed.
func (h *QueueHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	ops := h.queue.ListFailed()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// ClearFailed handles DELETE /api/queue/failed.
// Drops terminally failed operations after user acknowledgment.
func (h *QueueHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.ClearFailed()
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), "Failed to clear failed operations")
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastFailedCleared(count)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": count,
	})
}

// RetryFailed handles POST /api/queue/failed/retry.
// Returns failed operations to pending with a fresh retry budget and starts
// a drain when the server is reachable.
func (h *QueueHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.RetryFailed()
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), "Failed to re-queue failed operations")
		return
	}

	if count > 0 && h.monitor.IsOnline() {
		// The drain outlives this request; net/http cancels r.Context()
		// as soon as the handler returns.
		h.scheduler.TriggerDrain(context.WithoutCancel(r.Context()))
	}

	if h.wsHub != nil && count > 0 {
		h.wsHub.BroadcastFailedRequeued(count)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": count,
	})
}

// Status handles GET /api/queue/status.
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":   h.monitor.IsOnline(),
		"draining": h.scheduler.IsDraining(),
		"stats":    h.queue.Stats(),
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": message,
		"code":  string(code),
	})
}
