// Package scheduler drains the offline write queue: strictly serial
// delivery, bounded exponential backoff, terminal failure after the retry
// budget is spent.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
	"github.com/kimhsiao/taskdeck/backend/internal/logging"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
	"github.com/kimhsiao/taskdeck/backend/internal/sync/queue"
)

// Dispatcher performs exactly one delivery attempt for an operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, op *models.Operation) error
}

// Events receives queue lifecycle notifications, typically for broadcasting
// to status UIs. All methods are called from the drain goroutine.
type Events interface {
	OperationDelivered(op models.Operation)
	OperationFailed(op models.Operation, reason string)
	DrainFinished(delivered, failed int)
}

// Scheduler walks pending operations one at a time and applies the retry
// policy. Only one drain pass runs at a time; overlapping triggers are
// no-ops.
type Scheduler struct {
	queue      *queue.Queue
	dispatcher Dispatcher
	backoff    []time.Duration
	events     Events

	mu       sync.Mutex
	draining bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEvents installs a lifecycle listener.
func WithEvents(events Events) Option {
	return func(s *Scheduler) { s.events = events }
}

// New creates a Scheduler. The backoff schedule holds one delay per retry:
// an operation is attempted len(backoff)+1 times in total before it is
// marked failed.
func New(q *queue.Queue, dispatcher Dispatcher, backoff []time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:      q,
		dispatcher: dispatcher,
		backoff:    backoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts returns the total delivery attempts an operation gets.
func (s *Scheduler) MaxAttempts() int {
	return len(s.backoff) + 1
}

// IsDraining reports whether a drain pass is currently running.
func (s *Scheduler) IsDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// TriggerDrain starts a drain pass in the background. Returns false when a
// pass is already running.
func (s *Scheduler) TriggerDrain(ctx context.Context) bool {
	if s.IsDraining() {
		return false
	}
	go s.Drain(ctx)
	return true
}

// Drain processes every pending operation to completion or terminal
// failure. Operations are delivered in list order, one at a time; a record
// inside its retry window blocks the records behind it, which keeps
// per-entity ordering intact at the cost of head-of-line blocking.
//
// Cancelling ctx stops the pass between attempts; in-flight records stay
// pending and are picked up by the next pass.
func (s *Scheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	delivered, failed := 0, 0

	for {
		select {
		case <-ctx.Done():
			logging.Debug("Drain cancelled", map[string]interface{}{
				"delivered": delivered,
				"failed":    failed,
			})
			return
		default:
		}

		op, ok := s.queue.NextPending()
		if !ok {
			break
		}

		switch s.deliver(ctx, op) {
		case deliveryDone:
			delivered++
		case deliveryFailed:
			failed++
		case deliveryAborted:
			return
		case deliverySkipped:
			// Record disappeared mid-flight (coalesced or cleared);
			// the loop picks up its replacement next.
		}
	}

	if delivered > 0 || failed > 0 {
		logging.Info("Drain finished", map[string]interface{}{
			"delivered": delivered,
			"failed":    failed,
		})
	}
	if s.events != nil {
		s.events.DrainFinished(delivered, failed)
	}
}

type deliveryResult int

const (
	deliveryDone deliveryResult = iota
	deliveryFailed
	deliveryAborted
	deliverySkipped
)

// deliver attempts one operation until it succeeds, exhausts its retry
// budget, or the context is cancelled. An explicit loop keeps stack depth
// flat no matter how many retries run.
func (s *Scheduler) deliver(ctx context.Context, op models.Operation) deliveryResult {
	for {
		if err := s.queue.MarkDispatching(op.ID); err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return deliverySkipped
			}
			logging.Error("Failed to mark operation dispatching", err,
				map[string]interface{}{"operation_id": string(op.ID)})
			return deliveryAborted
		}

		err := s.dispatcher.Dispatch(ctx, &op)
		if err == nil {
			if removeErr := s.queue.Remove(op.ID); removeErr != nil {
				logging.Error("Failed to remove delivered operation", removeErr,
					map[string]interface{}{"operation_id": string(op.ID)})
				return deliveryAborted
			}
			logging.Debug("Operation delivered", map[string]interface{}{
				"operation_id": string(op.ID),
				"entity_type":  string(op.EntityType),
				"entity_id":    op.EntityID,
			})
			if s.events != nil {
				s.events.OperationDelivered(op)
			}
			return deliveryDone
		}

		retryCount, recordErr := s.queue.RecordFailure(op.ID, err.Error())
		if recordErr != nil {
			if apperrors.Is(recordErr, apperrors.ErrNotFound) {
				return deliverySkipped
			}
			logging.Error("Failed to record dispatch failure", recordErr,
				map[string]interface{}{"operation_id": string(op.ID)})
			return deliveryAborted
		}
		op.RetryCount = retryCount

		if retryCount > len(s.backoff) {
			if failErr := s.queue.MarkFailed(op.ID, err.Error()); failErr != nil {
				logging.Error("Failed to mark operation failed", failErr,
					map[string]interface{}{"operation_id": string(op.ID)})
				return deliveryAborted
			}
			logging.ErrorWithCode("Operation failed permanently",
				string(apperrors.ErrRetryExhausted), err,
				map[string]interface{}{
					"operation_id": string(op.ID),
					"entity_type":  string(op.EntityType),
					"entity_id":    op.EntityID,
					"attempts":     retryCount,
				})
			if s.events != nil {
				s.events.OperationFailed(op, err.Error())
			}
			return deliveryFailed
		}

		delay := s.backoff[retryCount-1]
		logging.Warn("Dispatch failed, retrying", map[string]interface{}{
			"operation_id": string(op.ID),
			"retry_count":  retryCount,
			"max_attempts": s.MaxAttempts(),
			"delay_ms":     delay.Milliseconds(),
			"error":        err.Error(),
		})

		select {
		case <-ctx.Done():
			return deliveryAborted
		case <-time.After(delay):
		}
	}
}
