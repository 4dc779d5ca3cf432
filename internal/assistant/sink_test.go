package assistant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/importer"
	"github.com/felixgeelhaar/jarvis/internal/memory"
)

func TestMemorySink_AddBatch(t *testing.T) {
	r := newTestRig(t)
	sink := NewMemorySink(r.engine)

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []importer.Entry{
		{Content: "Ming 在 2025-03-01 10:00:00 对我说: 周末去爬山吗", Timestamp: ts, Source: map[string]string{"talker": "Ming"}},
		{Content: "我在 2025-03-01 10:01:00 对 Ming 说: 好啊", Timestamp: ts.Add(time.Minute), Source: map[string]string{"talker": "Ming"}},
	}
	if err := sink.AddBatch(context.Background(), entries); err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	counts := r.engine.Counts(context.Background())
	if counts[memory.TierLongTerm] != 2 {
		t.Errorf("Expected 2 long-term traces, got %d", counts[memory.TierLongTerm])
	}

	// Batch entries carry the fixed bulk-import scores.
	dump, err := r.engine.Export(context.Background())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(dump, "importance=0.50 intensity=0.30") {
		t.Errorf("Expected batch defaults in export:\n%s", dump)
	}
}

func TestMemorySink_Add(t *testing.T) {
	r := newTestRig(t)
	sink := NewMemorySink(r.engine)

	entry := importer.Entry{
		Content:   "Ming 在 2025-03-01 10:02:00 对我说: 记得带水",
		Timestamp: time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC),
		Source:    map[string]string{"talker": "Ming"},
	}
	if err := sink.Add(context.Background(), entry); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if total := countAll(t, r.engine); total != 1 {
		t.Errorf("Expected 1 trace, got %d", total)
	}
}

func TestMemorySink_Consolidate(t *testing.T) {
	r := newTestRig(t)
	sink := NewMemorySink(r.engine)

	if err := sink.Consolidate(context.Background()); err != nil {
		t.Fatalf("Consolidate failed: %v", err)
	}
}
