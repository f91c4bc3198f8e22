package models

import "time"

// Task represents a trackable work item inside a workspace.
type Task struct {
	ID          UUID   `db:"id" json:"id"`
	WorkspaceID UUID   `db:"workspace_id" json:"workspace_id"`
	Title       string `db:"title" json:"title"`
	Notes       string `db:"notes" json:"notes,omitempty"`
	Position    int    `db:"position" json:"position"`
	Done        bool   `db:"done" json:"done"`
	DueAt       int64  `db:"due_at" json:"due_at,omitempty"`
	TrackedSecs int64  `db:"tracked_secs" json:"tracked_secs"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// SyncID implements Syncable.
func (t *Task) SyncID() UUID { return t.ID }

// ModifiedAt implements Syncable.
func (t *Task) ModifiedAt() int64 { return t.UpdatedAt }

// UpdatedAtTime returns UpdatedAt as time.Time.
func (t *Task) UpdatedAtTime() time.Time {
	return time.Unix(t.UpdatedAt, 0)
}
