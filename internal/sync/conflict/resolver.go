// Package conflict provides last-write-wins reconciliation between local
// optimistic state and server truth.
//
// The queue only guarantees eventual delivery; when a server response and a
// locally-applied guess for the same entity are both at hand, this policy
// decides which one the presented state keeps.
package conflict

import (
	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
	"github.com/kimhsiao/taskdeck/backend/internal/logging"
	"github.com/kimhsiao/taskdeck/backend/internal/models"
)

// Side identifies which version won a resolution.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Errors
var (
	ErrInvalidConflict = apperrors.New(apperrors.ErrInvalid, "conflict requires both local and remote records")
	ErrIDMismatch      = apperrors.New(apperrors.ErrInvalid, "local and remote records identify different entities")
)

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Winner models.Syncable
	Loser  models.Syncable
	Side   Side
}

// Resolver applies last-write-wins, keyed on modification time.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve picks the version with the greater modification timestamp. Equal
// timestamps favor the remote version: once a write is acknowledged the
// server is the durable source of truth.
func (r *Resolver) Resolve(local, remote models.Syncable) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, ErrInvalidConflict
	}
	if local.SyncID() != remote.SyncID() {
		return nil, ErrIDMismatch
	}

	res := &Resolution{}
	if local.ModifiedAt() > remote.ModifiedAt() {
		res.Winner, res.Loser, res.Side = local, remote, SideLocal
	} else {
		res.Winner, res.Loser, res.Side = remote, local, SideRemote
	}

	logging.Debug("Conflict resolved", map[string]interface{}{
		"entity_id":        string(res.Winner.SyncID()),
		"winner_side":      string(res.Side),
		"local_timestamp":  local.ModifiedAt(),
		"remote_timestamp": remote.ModifiedAt(),
	})

	return res, nil
}

// ResolveAll resolves a batch of local/remote pairs, stopping on the first
// invalid pair.
func (r *Resolver) ResolveAll(pairs [][2]models.Syncable) ([]*Resolution, error) {
	results := make([]*Resolution, 0, len(pairs))
	for _, pair := range pairs {
		res, err := r.Resolve(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
