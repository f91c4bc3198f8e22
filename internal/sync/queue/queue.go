// Package queue provides the offline write queue: pending local mutations
// held durably until they can be applied to the remote API.
//
// The in-memory list is canonical and the Store is a passive mirror: every
// mutating call persists the full list synchronously before returning, so a
// crash observes either the pre-call or the post-call state.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
	"github.com/kimhsiao/taskdeck/backend/internal/logging"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
)

// Queue holds pending operations in enqueue order.
type Queue struct {
	mu    sync.Mutex
	ops   []*models.Operation
	store Store

	// drainHook, when set, is invoked fire-and-forget after a successful
	// enqueue so an online client starts delivering immediately.
	drainHook func()
}

// New creates a Queue and repopulates it from the store. Records persisted
// in the dispatching state are reset to pending: a restart interrupted their
// delivery and they must be attempted again.
func New(store Store) (*Queue, error) {
	data, err := store.Load()
	if err != nil {
		return nil, err
	}

	q := &Queue{store: store}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.ops); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueueCorrupt, "failed to decode persisted queue state", err)
		}
	}

	reset := 0
	for _, op := range q.ops {
		if op.State == models.OperationStateDispatching {
			op.State = models.OperationStatePending
			reset++
		}
	}
	if reset > 0 {
		if err := q.persistLocked(); err != nil {
			return nil, err
		}
		logging.Info("Reset interrupted operations to pending",
			map[string]interface{}{"count": reset})
	}

	return q, nil
}

// SetDrainHook installs the fire-and-forget callback run after enqueues.
func (q *Queue) SetDrainHook(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainHook = fn
}

// Enqueue records a local mutation for eventual remote delivery and returns
// the operation id.
//
// Enqueues coalesce: an existing pending or dispatching record for the same
// (entityType, entityID) is replaced in place, keeping its list position but
// resetting id, timing and retry state. A delete therefore supersedes any
// prior create or update for the entity.
func (q *Queue) Enqueue(kind models.OperationKind, entityType models.EntityType, entityID, ownerScope string, payload json.RawMessage) (models.UUID, error) {
	if !models.ValidKind(kind) {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation kind %q", kind))
	}
	if !models.ValidEntityType(entityType) {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown entity type %q", entityType))
	}
	if entityID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}

	op := &models.Operation{
		ID:         models.UUID(uuid.New().String()),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		OwnerScope: ownerScope,
		Payload:    clonePayload(payload),
		EnqueuedAt: time.Now().Unix(),
		RetryCount: 0,
		State:      models.OperationStatePending,
	}

	q.mu.Lock()

	replaced := false
	for i, existing := range q.ops {
		if existing.State == models.OperationStateFailed {
			continue
		}
		if existing.EntityType == entityType && existing.EntityID == entityID {
			q.ops[i] = op
			replaced = true
			break
		}
	}
	if !replaced {
		q.ops = append(q.ops, op)
	}

	if err := q.persistLocked(); err != nil {
		q.mu.Unlock()
		return "", err
	}

	hook := q.drainHook
	q.mu.Unlock()

	logging.Debug("Enqueued operation", map[string]interface{}{
		"operation_id": string(op.ID),
		"kind":         string(kind),
		"entity_type":  string(entityType),
		"entity_id":    entityID,
		"coalesced":    replaced,
	})

	if hook != nil {
		go hook()
	}

	return op.ID, nil
}

// Remove deletes a record by id. Removing an absent id is a no-op.
func (q *Queue) Remove(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return q.persistLocked()
		}
	}
	return nil
}

// ListAll returns a copy of every queued operation in list order.
func (q *Queue) ListAll() []models.Operation {
	return q.list(func(*models.Operation) bool { return true })
}

// ListPending returns a copy of the pending and dispatching operations.
func (q *Queue) ListPending() []models.Operation {
	return q.list(func(op *models.Operation) bool {
		return op.State != models.OperationStateFailed
	})
}

// ListFailed returns a copy of the terminally failed operations.
func (q *Queue) ListFailed() []models.Operation {
	return q.list(func(op *models.Operation) bool {
		return op.State == models.OperationStateFailed
	})
}

// Clear removes every queued operation.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = nil
	return q.persistLocked()
}

// ClearFailed removes the terminally failed operations, keeping the rest,
// and returns how many were removed. Counting happens under the queue lock
// so the result matches exactly what was dropped.
func (q *Queue) ClearFailed() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if op.State != models.OperationStateFailed {
			kept = append(kept, op)
		} else {
			removed++
		}
	}
	q.ops = kept
	if removed == 0 {
		return 0, nil
	}
	if err := q.persistLocked(); err != nil {
		return 0, err
	}
	return removed, nil
}

// RetryFailed resets failed operations to pending with a fresh retry budget
// and returns how many were reset. Failed records are never retried
// automatically; this is the explicit user-initiated path.
func (q *Queue) RetryFailed() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, op := range q.ops {
		if op.State == models.OperationStateFailed {
			op.State = models.OperationStatePending
			op.RetryCount = 0
			op.LastError = ""
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	if err := q.persistLocked(); err != nil {
		return 0, err
	}
	return count, nil
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id models.UUID) (models.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op := q.findLocked(id); op != nil {
		return copyOperation(op), true
	}
	return models.Operation{}, false
}

// NextPending returns a copy of the first pending operation in list order.
func (q *Queue) NextPending() (models.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.State == models.OperationStatePending {
			return copyOperation(op), true
		}
	}
	return models.Operation{}, false
}

// MarkDispatching transitions a pending record to dispatching. It fails when
// the id is gone, which the scheduler treats as the record having been
// coalesced away or removed since it was picked.
func (q *Queue) MarkDispatching(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	op.State = models.OperationStateDispatching
	return q.persistLocked()
}

// RecordFailure increments the retry count after a failed dispatch, stores
// the failure reason, and returns the record to pending. The new retry count
// is returned so the caller can decide whether the budget is exhausted.
func (q *Queue) RecordFailure(id models.UUID, reason string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return 0, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	op.RetryCount++
	op.LastError = reason
	op.State = models.OperationStatePending
	if err := q.persistLocked(); err != nil {
		return 0, err
	}
	return op.RetryCount, nil
}

// MarkFailed transitions a record to the terminal failed state. The record
// is retained and visible through ListFailed until cleared or re-queued.
func (q *Queue) MarkFailed(id models.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(id)
	if op == nil {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	op.State = models.OperationStateFailed
	op.LastError = reason
	return q.persistLocked()
}

// Stats returns operation counts by state.
func (q *Queue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":       len(q.ops),
		"pending":     0,
		"dispatching": 0,
		"failed":      0,
	}
	for _, op := range q.ops {
		stats[string(op.State)]++
	}
	return stats
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// findLocked returns the operation with the given id. Caller holds q.mu.
func (q *Queue) findLocked(id models.UUID) *models.Operation {
	for _, op := range q.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// persistLocked overwrites the store with the full serialized list.
// Caller holds q.mu. A storage failure leaves memory ahead of the store;
// the error propagates to whoever triggered the mutation.
func (q *Queue) persistLocked() error {
	ops := q.ops
	if ops == nil {
		ops = []*models.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to encode queue state", err)
	}
	return q.store.Save(data)
}

// list returns value copies of the operations matching the filter.
func (q *Queue) list(match func(*models.Operation) bool) []models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if match(op) {
			out = append(out, copyOperation(op))
		}
	}
	return out
}

func copyOperation(op *models.Operation) models.Operation {
	cp := *op
	cp.Payload = clonePayload(op.Payload)
	return cp
}

func clonePayload(payload json.RawMessage) json.RawMessage {
	if payload == nil {
		return nil
	}
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	return cp
}
