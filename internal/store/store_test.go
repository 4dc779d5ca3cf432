package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "store-test-*")
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "jarvis.db")
	artDir := filepath.Join(tmpDir, "artifacts")

	s, err := NewSQLiteStore(dbPath, artDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	t.Run("Sessions", func(t *testing.T) {
		now := time.Now()
		sess := &Session{
			ID:         "s1",
			Username:   "alice",
			CreatedAt:  now,
			LastActive: now,
			Status:     "active",
			Metadata:   map[string]string{"key": "val"},
		}

		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}

		got, err := s.GetSession("s1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.Username != "alice" {
			t.Errorf("Expected username 'alice', got '%s'", got.Username)
		}
		if got.Metadata["key"] != "val" {
			t.Errorf("Expected metadata 'val', got '%s'", got.Metadata["key"])
		}

		got.Status = "idle"
		got.LastActive = now.Add(time.Hour)
		if err := s.UpdateSession(got); err != nil {
			t.Fatalf("UpdateSession failed: %v", err)
		}

		updated, _ := s.GetSession("s1")
		if updated.Status != "idle" {
			t.Errorf("Expected status 'idle', got '%s'", updated.Status)
		}
		if !updated.LastActive.After(updated.CreatedAt) {
			t.Errorf("Expected last_active to advance, got %v", updated.LastActive)
		}

		if _, err := s.GetSession("non-existent"); err == nil {
			t.Error("Expected error for non-existent session")
		}

		list, err := s.ListSessions()
		if err != nil {
			t.Fatalf("ListSessions failed: %v", err)
		}
		if len(list) != 1 || list[0].ID != "s1" {
			t.Errorf("Expected one session s1, got %+v", list)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		for i, turn := range []struct{ role, content string }{
			{"user", "hi"},
			{"assistant", "hello"},
			{"user", "what time is it"},
		} {
			msg := &Message{SessionID: "s1", Role: turn.role, Content: turn.content, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
			if err := s.AppendMessage(msg); err != nil {
				t.Fatalf("AppendMessage %d failed: %v", i, err)
			}
		}

		msgs, err := s.GetMessages("s1")
		if err != nil {
			t.Fatalf("GetMessages failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("Expected 3 messages, got %d", len(msgs))
		}
		if msgs[0].Seq != 1 || msgs[2].Seq != 3 {
			t.Errorf("Expected seq 1..3, got %d..%d", msgs[0].Seq, msgs[2].Seq)
		}
		if msgs[1].Role != "assistant" || msgs[1].Content != "hello" {
			t.Errorf("Unexpected second message: %+v", msgs[1])
		}

		n, err := s.CountMessages("s1")
		if err != nil || n != 3 {
			t.Errorf("Expected count 3, got %d (%v)", n, err)
		}

		if err := s.ClearMessages("s1"); err != nil {
			t.Fatalf("ClearMessages failed: %v", err)
		}
		n, _ = s.CountMessages("s1")
		if n != 0 {
			t.Errorf("Expected 0 messages after clear, got %d", n)
		}
	})

	t.Run("Artifacts", func(t *testing.T) {
		art := &Artifact{
			ID:        "a1",
			SessionID: "s1",
			Name:      "tool_output",
			Path:      "s1/test.txt",
			SHA256:    "d1",
			Size:      14,
			CreatedAt: time.Now(),
		}
		content := []byte("hello artifact")

		if err := s.SaveArtifact(art, content); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		gotArt, gotContent, err := s.GetArtifact("a1")
		if err != nil {
			t.Fatalf("GetArtifact failed: %v", err)
		}
		if string(gotContent) != "hello artifact" {
			t.Errorf("Expected 'hello artifact', got '%s'", string(gotContent))
		}
		if gotArt.SHA256 != "d1" || gotArt.Size != 14 {
			t.Errorf("Unexpected artifact metadata: %+v", gotArt)
		}

		list, _ := s.ListArtifacts("s1")
		if len(list) != 1 {
			t.Errorf("Expected 1 artifact in list, got %d", len(list))
		}

		if _, _, err := s.GetArtifact("non-existent"); err == nil {
			t.Error("Expected error for non-existent artifact")
		}
	})

	t.Run("Config", func(t *testing.T) {
		if err := s.SetConfig("k1", "v1"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}

		val, err := s.GetConfig("k1")
		if err != nil {
			t.Fatalf("GetConfig failed: %v", err)
		}
		if val != "v1" {
			t.Errorf("Expected 'v1', got '%s'", val)
		}

		if err := s.SetConfig("k1", "v2"); err != nil {
			t.Fatalf("SetConfig upsert failed: %v", err)
		}
		val, _ = s.GetConfig("k1")
		if val != "v2" {
			t.Errorf("Expected upserted 'v2', got '%s'", val)
		}

		val2, _ := s.GetConfig("unknown")
		if val2 != "" {
			t.Errorf("Expected empty string for unknown config, got '%s'", val2)
		}
	})

	t.Run("Session Delete Cascades Messages", func(t *testing.T) {
		now := time.Now()
		sess := &Session{ID: "s2", Username: "bob", CreatedAt: now, LastActive: now, Status: "active", Metadata: map[string]string{}}
		if err := s.CreateSession(sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		s.AppendMessage(&Message{SessionID: "s2", Role: "user", Content: "hey", CreatedAt: now})

		if err := s.DeleteSession("s2"); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
		if _, err := s.GetSession("s2"); err == nil {
			t.Error("Expected error getting deleted session")
		}
		n, _ := s.CountMessages("s2")
		if n != 0 {
			t.Errorf("Expected messages gone with session, got %d", n)
		}
	})
}

func TestSummaryArchive(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "store-test-*")
	defer os.RemoveAll(tmpDir)

	s, err := NewSQLiteStore(filepath.Join(tmpDir, "jarvis.db"), filepath.Join(tmpDir, "artifacts"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	add := func(id, content string, embedding []float32) {
		t.Helper()
		sum := &Summary{ID: id, SessionID: "s1", Content: content, CreatedAt: time.Now()}
		if err := s.AddSummary(sum, embedding); err != nil {
			t.Fatalf("AddSummary %s failed: %v", id, err)
		}
	}

	add("sum1", "talked about tea", []float32{1, 0, 0})
	add("sum2", "talked about rockets", []float32{0, 0, 1})
	add("sum3", "talked about coffee", []float32{0.9, 0.1, 0})

	t.Run("Ranked By Similarity", func(t *testing.T) {
		got, err := s.SearchSummaries([]float32{1, 0, 0}, 2)
		if err != nil {
			t.Fatalf("SearchSummaries failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 results, got %d", len(got))
		}
		if got[0].ID != "sum1" || got[1].ID != "sum3" {
			t.Errorf("Expected sum1 then sum3, got %s then %s", got[0].ID, got[1].ID)
		}
		if got[0].Similarity < got[1].Similarity {
			t.Errorf("Expected descending similarity, got %f then %f", got[0].Similarity, got[1].Similarity)
		}
	})

	t.Run("Limit Beyond Archive", func(t *testing.T) {
		got, err := s.SearchSummaries([]float32{0, 1, 0}, 10)
		if err != nil {
			t.Fatalf("SearchSummaries failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("Expected all 3 summaries, got %d", len(got))
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("Expected identity similarity ~1, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Expected orthogonal similarity 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("Expected mismatched lengths to score 0, got %f", got)
	}
}
