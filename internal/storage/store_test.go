package storage

import (
	"testing"

	"github.com/theseusyang/weaver/internal/vclock"
)

func TestMemoryStore(t *testing.T) {
	t.Run("new store has no handles", func(t *testing.T) {
		store := NewMemoryStore()
		if got := store.Handles(); len(got) != 0 {
			t.Errorf("Handles() = %v, want empty", got)
		}
		if _, err := store.Get(1); err != ErrNodeNotFound {
			t.Errorf("Get on empty store = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("get or create returns the same node on repeat calls", func(t *testing.T) {
		store := NewMemoryStore()
		at := vclock.New(0, 1)
		first := store.GetOrCreate(1, at)
		second := store.GetOrCreate(1, vclock.New(0, 99))
		if first != second {
			t.Fatal("expected GetOrCreate to return the same pointer for an existing handle")
		}
		if !vclock.Equals(second.CreatedAt, at) {
			t.Error("expected the node's creation clock to be from the first call, not the second")
		}
	})

	t.Run("get returns created node", func(t *testing.T) {
		store := NewMemoryStore()
		store.GetOrCreate(5, vclock.New(0, 1))
		n, err := store.Get(5)
		if err != nil {
			t.Fatal(err)
		}
		if n.ID != 5 {
			t.Errorf("ID = %d, want 5", n.ID)
		}
	})

	t.Run("delete stamps deletion clock without removing the node", func(t *testing.T) {
		store := NewMemoryStore()
		store.GetOrCreate(1, vclock.New(0, 1))
		if err := store.Delete(1, vclock.New(0, 2)); err != nil {
			t.Fatal(err)
		}
		n, err := store.Get(1)
		if err != nil {
			t.Fatal(err)
		}
		if n.DeletedAt == nil {
			t.Fatal("expected DeletedAt to be stamped")
		}
	})

	t.Run("delete of unknown handle is a no-op", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Delete(404, vclock.New(0, 1)); err != nil {
			t.Errorf("Delete on unknown handle = %v, want nil", err)
		}
	})

	t.Run("handles reports every created node", func(t *testing.T) {
		store := NewMemoryStore()
		store.GetOrCreate(1, vclock.New(0, 1))
		store.GetOrCreate(2, vclock.New(0, 1))
		got := store.Handles()
		if len(got) != 2 {
			t.Fatalf("len(Handles()) = %d, want 2", len(got))
		}
	})

	t.Run("purge removes only nodes deleted at or before the cutoff", func(t *testing.T) {
		store := NewMemoryStore()
		store.GetOrCreate(1, vclock.New(0, 1))
		store.GetOrCreate(2, vclock.New(0, 1))
		store.Delete(1, vclock.New(0, 2))

		purged := store.PurgeDeletedBefore(vclock.New(0, 2))
		if purged != 1 {
			t.Fatalf("purged = %d, want 1", purged)
		}
		if _, err := store.Get(1); err != ErrNodeNotFound {
			t.Error("expected the purged node to be gone")
		}
		if _, err := store.Get(2); err != nil {
			t.Error("expected the live node to survive the purge")
		}
	})
}
