// Package models provides data model definitions for TaskDeck Core.
package models

import (
	"encoding/json"
	"time"
)

// UUID is a string-typed UUID used across models.
type UUID string

// OperationKind represents the kind of mutation an operation carries.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// EntityType represents the aggregate type an operation targets.
type EntityType string

const (
	EntityTask      EntityType = "task"
	EntityComment   EntityType = "comment"
	EntityWorkspace EntityType = "workspace"
)

// OperationState represents the lifecycle state of a queued operation.
// Successful operations are removed outright; there is no persisted
// "succeeded" state.
type OperationState string

const (
	OperationStatePending     OperationState = "pending"
	OperationStateDispatching OperationState = "dispatching"
	OperationStateFailed      OperationState = "failed"
)

// Operation represents one pending local mutation awaiting remote application.
type Operation struct {
	ID         UUID            `db:"id" json:"id"`
	Kind       OperationKind   `db:"kind" json:"kind"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	OwnerScope string          `db:"owner_scope" json:"owner_scope"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	State      OperationState  `db:"state" json:"state"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (o *Operation) EnqueuedAtTime() time.Time {
	return time.Unix(o.EnqueuedAt, 0)
}

// ValidKind reports whether k is a known operation kind.
func ValidKind(k OperationKind) bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTask, EntityComment, EntityWorkspace:
		return true
	}
	return false
}
