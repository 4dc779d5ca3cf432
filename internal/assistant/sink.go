package assistant

import (
	"context"

	"github.com/felixgeelhaar/jarvis/internal/importer"
	"github.com/felixgeelhaar/jarvis/internal/memory"
)

// Bulk-imported history skips per-entry analysis; these defaults give
// every batch entry moderate weight on its way into long-term.
const (
	batchImportance         = 0.5
	batchEmotionalIntensity = 0.3
)

// MemorySink feeds normalized chat entries into the episodic engine.
// It is the bridge the importer writes through.
type MemorySink struct {
	engine *memory.Engine
}

func NewMemorySink(engine *memory.Engine) *MemorySink {
	return &MemorySink{engine: engine}
}

// AddBatch stores a chunk in one engine operation with batch defaults.
func (s *MemorySink) AddBatch(ctx context.Context, entries []importer.Entry) error {
	items := make([]memory.BatchItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, memory.BatchItem{
			Content:            e.Content,
			Timestamp:          e.Timestamp,
			Importance:         batchImportance,
			EmotionalIntensity: batchEmotionalIntensity,
			Source:             e.Source,
		})
	}
	_, err := s.engine.RememberBatch(ctx, items)
	return err
}

// Add stores a single entry with full importance and emotion analysis,
// keeping the original event time.
func (s *MemorySink) Add(ctx context.Context, entry importer.Entry) error {
	_, err := s.engine.RememberAt(ctx, entry.Content, entry.Timestamp, memory.TypeEpisodic, entry.Source)
	return err
}

// Consolidate runs the full post-import maintenance pass.
func (s *MemorySink) Consolidate(ctx context.Context) error {
	_, err := s.engine.Maintain(ctx, memory.MaintenanceOptions{})
	return err
}
