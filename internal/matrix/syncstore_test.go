package matrix

import (
	"context"
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/anicolao/morpheum/internal/opstate"
)

func TestSyncStore(t *testing.T) {
	state, err := opstate.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Close() })

	ctx := context.Background()
	s := NewSyncStore(state)
	alice := id.UserID("@alice:example.org")
	bob := id.UserID("@bob:example.org")

	if got, err := s.LoadNextBatch(ctx, alice); err != nil || got != "" {
		t.Fatalf("LoadNextBatch on empty store = (%q, %v)", got, err)
	}
	if err := s.SaveNextBatch(ctx, alice, "s72594_4483_1934"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFilterID(ctx, alice, "f1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadNextBatch(ctx, alice); got != "s72594_4483_1934" {
		t.Errorf("LoadNextBatch = %q", got)
	}
	if got, _ := s.LoadFilterID(ctx, alice); got != "f1" {
		t.Errorf("LoadFilterID = %q", got)
	}
	if got, _ := s.LoadNextBatch(ctx, bob); got != "" {
		t.Errorf("next batch leaked across users: %q", got)
	}

	// A second store over the same database sees the saved position.
	if got, _ := NewSyncStore(state).LoadNextBatch(ctx, alice); got != "s72594_4483_1934" {
		t.Errorf("reopened LoadNextBatch = %q", got)
	}
}
