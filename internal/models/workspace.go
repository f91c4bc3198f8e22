package models

// Workspace represents a shared collection of tasks.
type Workspace struct {
	ID        UUID   `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	OwnerID   UUID   `db:"owner_id" json:"owner_id"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// SyncID implements Syncable.
func (w *Workspace) SyncID() UUID { return w.ID }

// ModifiedAt implements Syncable.
func (w *Workspace) ModifiedAt() int64 { return w.UpdatedAt }
