package matrix

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/anicolao/morpheum/internal/opstate"
)

// SyncNamespace is the opstate namespace holding sync positions.
const SyncNamespace = "matrix_sync"

// SyncStore persists the sync filter and next_batch token in opstate so
// a restart resumes where the previous run stopped instead of replaying
// room history.
type SyncStore struct {
	state *opstate.Store
}

var _ mautrix.SyncStore = (*SyncStore)(nil)

// NewSyncStore creates a SyncStore backed by state.
func NewSyncStore(state *opstate.Store) *SyncStore {
	return &SyncStore{state: state}
}

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.Set(ctx, SyncNamespace, "filter:"+userID.String(), filterID)
}

func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.Get(ctx, SyncNamespace, "filter:"+userID.String())
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.Set(ctx, SyncNamespace, "next_batch:"+userID.String(), nextBatchToken)
}

func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.Get(ctx, SyncNamespace, "next_batch:"+userID.String())
}
