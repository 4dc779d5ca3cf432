package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTrace_RecordRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	orig := Trace{
		ID:                 "trace-1",
		Content:            "moved the plants to the balcony",
		Timestamp:          ts,
		Importance:         0.7,
		EmotionalIntensity: 0.4,
		ContextTags:        []string{"home", "plants"},
		RecallCount:        3,
		LastRecall:         ts.Add(time.Hour),
		Type:               TypeEpisodic,
		Source:             map[string]string{"talker": "Ming"},
		MergedFrom:         []string{"a", "b"},
		Embedding:          []float32{0.1, 0.2},
	}

	got := TraceFromRecord(orig.Record(), TierShortTerm)

	if got.ID != orig.ID {
		t.Errorf("Expected ID %q, got %q", orig.ID, got.ID)
	}
	if got.Content != orig.Content {
		t.Errorf("Expected content %q, got %q", orig.Content, got.Content)
	}
	if !got.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("Expected timestamp %s, got %s", orig.Timestamp, got.Timestamp)
	}
	if got.Importance != orig.Importance {
		t.Errorf("Expected importance %f, got %f", orig.Importance, got.Importance)
	}
	if got.EmotionalIntensity != orig.EmotionalIntensity {
		t.Errorf("Expected intensity %f, got %f", orig.EmotionalIntensity, got.EmotionalIntensity)
	}
	if len(got.ContextTags) != 2 || got.ContextTags[0] != "home" {
		t.Errorf("unexpected tags: %v", got.ContextTags)
	}
	if got.RecallCount != 3 {
		t.Errorf("Expected 3 recalls, got %d", got.RecallCount)
	}
	if !got.LastRecall.Equal(orig.LastRecall) {
		t.Errorf("Expected last recall %s, got %s", orig.LastRecall, got.LastRecall)
	}
	if got.Type != TypeEpisodic {
		t.Errorf("Expected episodic type, got %s", got.Type)
	}
	if got.Source["talker"] != "Ming" {
		t.Errorf("Expected source talker Ming, got %v", got.Source)
	}
	if len(got.MergedFrom) != 2 {
		t.Errorf("unexpected merged from: %v", got.MergedFrom)
	}
	if got.Tier != TierShortTerm {
		t.Errorf("Expected short_term tier, got %s", got.Tier)
	}
}

func TestTrace_RecordReservedKeys(t *testing.T) {
	// A source key colliding with a metadata key must not clobber it.
	tr := Trace{
		ID:         "trace-2",
		Content:    "test",
		Timestamp:  time.Now(),
		Importance: 0.9,
		Source:     map[string]string{"importance": "fake", "room": "kitchen"},
	}

	rec := tr.Record()
	if rec.Metadata["importance"] != "0.9" {
		t.Errorf("Expected importance 0.9, got %q", rec.Metadata["importance"])
	}
	if rec.Metadata["room"] != "kitchen" {
		t.Errorf("Expected room carried through, got %q", rec.Metadata["room"])
	}
}

func TestTraceFromRecord_TimestampFallback(t *testing.T) {
	// Imported records may only carry the float timestamp.
	rec := Record{
		ID:      "trace-3",
		Content: "test",
		Metadata: map[string]string{
			"timestamp_float": "1740823200.000000",
		},
	}

	tr := TraceFromRecord(rec, TierLongTerm)
	if tr.Timestamp.IsZero() {
		t.Fatal("Expected timestamp recovered from float form")
	}
	if tr.Timestamp.Unix() != 1740823200 {
		t.Errorf("Expected unix 1740823200, got %d", tr.Timestamp.Unix())
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.5", 0.5},
		{"1.7", 1.0},
		{"-0.2", 0.0},
		{"garbage", 0.0},
	}
	for _, tt := range tests {
		if got := parseScore(tt.in); got != tt.want {
			t.Errorf("parseScore(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if got := cosineSimilarity(a, a); got < 0.999 {
		t.Errorf("Expected self similarity 1, got %f", got)
	}
	if got := cosineSimilarity(a, b); got != 0 {
		t.Errorf("Expected orthogonal similarity 0, got %f", got)
	}
	if got := cosineSimilarity(a, []float32{1, 0}); got != 0 {
		t.Errorf("Expected 0 for mismatched lengths, got %f", got)
	}
}

func TestFallbackKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"什么是重庆防疫站", []string{"重庆防疫站"}},
		{"你好", []string{"你好"}},
		{"天津 北京 上海 广州", []string{"天津", "北京", "上海"}},
		{"是的", nil},
	}
	for _, tt := range tests {
		got := fallbackKeywords(tt.query)
		if len(got) != len(tt.want) {
			t.Errorf("fallbackKeywords(%q) = %v, want %v", tt.query, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("fallbackKeywords(%q) = %v, want %v", tt.query, got, tt.want)
				break
			}
		}
	}
}

func TestGraph_LinkAndCap(t *testing.T) {
	g := &Graph{links: make(map[string][]string)}

	g.Link("a", "b")
	g.Link("a", "b") // duplicate, ignored
	if n := g.Neighbors("a"); len(n) != 1 || n[0] != "b" {
		t.Errorf("unexpected neighbors: %v", n)
	}
	if n := g.Neighbors("b"); len(n) != 1 || n[0] != "a" {
		t.Errorf("Expected back link, got %v", n)
	}

	// The oldest neighbor falls off once the cap is reached.
	for i := 0; i < MaxAssociations; i++ {
		g.Link("a", string(rune('c'+i)))
	}
	neighbors := g.Neighbors("a")
	if len(neighbors) != MaxAssociations {
		t.Fatalf("Expected %d neighbors, got %d", MaxAssociations, len(neighbors))
	}
	for _, id := range neighbors {
		if id == "b" {
			t.Error("Expected oldest neighbor b to be evicted")
		}
	}
}

func TestGraph_Remove(t *testing.T) {
	g := &Graph{links: make(map[string][]string)}
	g.Link("a", "b")
	g.Link("b", "c")

	g.Remove("b")

	if n := g.Neighbors("a"); len(n) != 0 {
		t.Errorf("Expected a unlinked, got %v", n)
	}
	if n := g.Neighbors("c"); len(n) != 0 {
		t.Errorf("Expected c unlinked, got %v", n)
	}
	if g.Len() != 0 {
		t.Errorf("Expected empty graph, got %d", g.Len())
	}
}

func TestGraph_Rewire(t *testing.T) {
	g := &Graph{links: make(map[string][]string)}
	g.Link("old1", "keep1")
	g.Link("old2", "keep2")
	g.Link("old1", "old2")

	g.Rewire([]string{"old1", "old2"}, "merged")

	for _, id := range []string{"old1", "old2"} {
		if n := g.Neighbors(id); len(n) != 0 {
			t.Errorf("Expected %s gone, got %v", id, n)
		}
	}
	merged := g.Neighbors("merged")
	if len(merged) != 2 {
		t.Fatalf("Expected merged to inherit 2 neighbors, got %v", merged)
	}
	if n := g.Neighbors("keep1"); len(n) != 1 || n[0] != "merged" {
		t.Errorf("Expected keep1 relinked to merged, got %v", n)
	}
}

func TestGraph_SaveLoad(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "graph-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "graph.json")

	g, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph on missing file failed: %v", err)
	}
	g.Link("a", "b")
	if err := g.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph failed: %v", err)
	}
	if n := loaded.Neighbors("a"); len(n) != 1 || n[0] != "b" {
		t.Errorf("unexpected neighbors after reload: %v", n)
	}
}
