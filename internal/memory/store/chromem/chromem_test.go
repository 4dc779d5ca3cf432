package chromem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/jarvis/internal/memory"
)

// fakeEmbed maps known words onto fixed unit vectors so similarity
// ordering is deterministic.
func fakeEmbed(_ context.Context, text string) ([]float32, error) {
	switch text {
	case "tea":
		return []float32{1, 0, 0}, nil
	case "coffee":
		return []float32{0.9, 0.1, 0}, nil
	case "rocket":
		return []float32{0, 0, 1}, nil
	default:
		return []float32{0, 1, 0}, nil
	}
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	emb, err := fakeEmbed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	return emb
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("", "test", fakeEmbed)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func rec(t *testing.T, id, content string, meta map[string]string) memory.Record {
	t.Helper()
	if meta == nil {
		meta = map[string]string{}
	}
	return memory.Record{ID: id, Content: content, Embedding: mustEmbed(t, content), Metadata: meta}
}

func TestStoreImplementsInterface(t *testing.T) {
	var _ memory.Store = &Store{}
}

func TestStoreAddGetCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, memory.TierWorking, []memory.Record{
		rec(t, "m1", "tea", map[string]string{"importance": "0.5"}),
		rec(t, "m2", "rocket", nil),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	n, err := s.Count(ctx, memory.TierWorking)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected count 2, got %d", n)
	}

	t.Run("Get Known And Unknown IDs", func(t *testing.T) {
		got, err := s.Get(ctx, memory.TierWorking, []string{"m1", "missing", "m2"})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(got))
		}
		found := map[string]memory.Record{}
		for _, r := range got {
			found[r.ID] = r
		}
		if found["m1"].Content != "tea" {
			t.Errorf("Unexpected content %q", found["m1"].Content)
		}
		if found["m1"].Metadata["importance"] != "0.5" {
			t.Errorf("Expected metadata carried through, got %v", found["m1"].Metadata)
		}
	})

	t.Run("Tiers Are Isolated", func(t *testing.T) {
		n, err := s.Count(ctx, memory.TierLongTerm)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected empty long_term tier, got %d", n)
		}
	})
}

func TestStoreQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, memory.TierLongTerm, []memory.Record{
		rec(t, "m1", "tea", map[string]string{"kind": "drink"}),
		rec(t, "m2", "coffee", map[string]string{"kind": "drink"}),
		rec(t, "m3", "rocket", map[string]string{"kind": "machine"}),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("Nearest First", func(t *testing.T) {
		got, err := s.Query(ctx, memory.TierLongTerm, mustEmbed(t, "tea"), 2, nil, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(got))
		}
		if got[0].ID != "m1" {
			t.Errorf("Expected m1 first, got %s", got[0].ID)
		}
		if got[0].Similarity < got[1].Similarity {
			t.Errorf("Expected descending similarity, got %f then %f", got[0].Similarity, got[1].Similarity)
		}
	})

	t.Run("Limit Clamped To Collection Size", func(t *testing.T) {
		got, err := s.Query(ctx, memory.TierLongTerm, mustEmbed(t, "tea"), 50, nil, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("Expected all 3 results, got %d", len(got))
		}
	})

	t.Run("Where Filter", func(t *testing.T) {
		got, err := s.Query(ctx, memory.TierLongTerm, mustEmbed(t, "tea"), 3, map[string]string{"kind": "machine"}, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "m3" {
			t.Errorf("Expected only m3, got %+v", got)
		}
	})

	t.Run("Empty Tier", func(t *testing.T) {
		got, err := s.Query(ctx, memory.TierShortTerm, mustEmbed(t, "tea"), 5, nil, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected no results, got %d", len(got))
		}
	})
}

func TestStoreUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, memory.TierShortTerm, []memory.Record{rec(t, "m1", "tea", map[string]string{"recall_count": "0"})}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("Update Replaces Metadata", func(t *testing.T) {
		updated := rec(t, "m1", "tea", map[string]string{"recall_count": "3"})
		if err := s.Update(ctx, memory.TierShortTerm, updated); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, err := s.Get(ctx, memory.TierShortTerm, []string{"m1"})
		if err != nil || len(got) != 1 {
			t.Fatalf("Get after update failed: %v (%d records)", err, len(got))
		}
		if got[0].Metadata["recall_count"] != "3" {
			t.Errorf("Expected updated recall_count, got %v", got[0].Metadata)
		}
		n, _ := s.Count(ctx, memory.TierShortTerm)
		if n != 1 {
			t.Errorf("Expected count unchanged at 1, got %d", n)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, memory.TierShortTerm, "m1", "missing"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		n, _ := s.Count(ctx, memory.TierShortTerm)
		if n != 0 {
			t.Errorf("Expected empty tier after delete, got %d", n)
		}
	})

	t.Run("Delete Nothing", func(t *testing.T) {
		if err := s.Delete(ctx, memory.TierShortTerm); err != nil {
			t.Errorf("Expected no-op delete to succeed, got %v", err)
		}
	})
}

func TestStoreAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		got, err := s.All(ctx, memory.TierLongTerm)
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected no records, got %d", len(got))
		}
	})

	if err := s.Add(ctx, memory.TierLongTerm, []memory.Record{
		rec(t, "m1", "tea", nil),
		rec(t, "m2", "coffee", nil),
		rec(t, "m3", "rocket", nil),
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	t.Run("Returns Everything", func(t *testing.T) {
		got, err := s.All(ctx, memory.TierLongTerm)
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("Expected 3 records, got %d", len(got))
		}
		seen := map[string]bool{}
		for _, r := range got {
			seen[r.ID] = true
		}
		for _, id := range []string{"m1", "m2", "m3"} {
			if !seen[id] {
				t.Errorf("Expected %s in full read", id)
			}
		}
	})
}

func TestStorePersistence(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "chromem-test-*")
	defer os.RemoveAll(tmpDir)
	dir := filepath.Join(tmpDir, "memories")
	ctx := context.Background()

	s1, err := New(dir, "jarvis", fakeEmbed)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s1.Add(ctx, memory.TierLongTerm, []memory.Record{rec(t, "m1", "tea", map[string]string{"importance": "0.8"})}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// A fresh store over the same directory must see the data. All goes
	// through the embedding function here because no write has primed
	// the probe cache yet.
	s2, err := New(dir, "jarvis", fakeEmbed)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	n, err := s2.Count(ctx, memory.TierLongTerm)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 persisted record, got %d", n)
	}
	got, err := s2.All(ctx, memory.TierLongTerm)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" || got[0].Metadata["importance"] != "0.8" {
		t.Errorf("Unexpected persisted record: %+v", got)
	}
}
