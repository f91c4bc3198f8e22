package models

// Syncable is implemented by records that participate in last-write-wins
// reconciliation between local optimistic state and server truth.
type Syncable interface {
	// SyncID returns the entity identifier.
	SyncID() UUID

	// ModifiedAt returns the modification timestamp (unix seconds).
	ModifiedAt() int64
}
