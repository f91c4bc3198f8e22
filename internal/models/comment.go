package models

// Comment represents a discussion entry attached to a task.
type Comment struct {
	ID          UUID   `db:"id" json:"id"`
	WorkspaceID UUID   `db:"workspace_id" json:"workspace_id"`
	TaskID      UUID   `db:"task_id" json:"task_id"`
	AuthorID    UUID   `db:"author_id" json:"author_id"`
	Body        string `db:"body" json:"body"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// SyncID implements Syncable.
func (c *Comment) SyncID() UUID { return c.ID }

// ModifiedAt implements Syncable.
func (c *Comment) ModifiedAt() int64 { return c.UpdatedAt }
