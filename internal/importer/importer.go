package importer

import (
	"context"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/observe"
)

// DefaultBatchSize bounds peak memory during ingestion when the caller
// does not pick a chunk size.
const DefaultBatchSize = 50

// Sink receives normalized entries. The memory engine satisfies it.
// AddBatch stores a chunk in one operation without per-entry analysis;
// Add stores a single entry with full analysis. Consolidate runs the
// post-import maintenance pass.
type Sink interface {
	AddBatch(ctx context.Context, entries []Entry) error
	Add(ctx context.Context, entry Entry) error
	Consolidate(ctx context.Context) error
}

// Importer turns raw chat records into stored episodic memories. Chunks
// are processed strictly in sequence; a failed chunk never aborts the
// remaining ones, and the maintenance pass fires exactly once per import
// call after all chunks have been attempted.
type Importer struct {
	norm *Normalizer
	sink Sink
	obs  *observe.Observer
}

func New(norm *Normalizer, sink Sink, obs *observe.Observer) *Importer {
	return &Importer{norm: norm, sink: sink, obs: obs}
}

// Import splits records into consecutive chunks of batchSize (the last
// chunk may be shorter), preserving the original order, and submits each
// surviving chunk to the sink as one add operation. Entries imported this
// way skip analysis and receive the batch defaults.
func (imp *Importer) Import(ctx context.Context, records []RawChatRecord, batchSize int) (*ImportReport, error) {
	ctx, span := imp.obs.StartSpan(ctx, "memory_import")
	defer span.End()

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	report := &ImportReport{Total: len(records)}

	imp.obs.Log().Info().
		Int("records", len(records)).
		Int("batch_size", batchSize).
		Msg("starting batch chat import")

	chunk := 0
	for lo := 0; lo < len(records); lo += batchSize {
		hi := lo + batchSize
		if hi > len(records) {
			hi = len(records)
		}
		chunk++

		entries := imp.normalizeChunk(records[lo:hi], report)
		if len(entries) == 0 {
			continue
		}

		if err := imp.sink.AddBatch(ctx, entries); err != nil {
			serr := &StoreError{Chunk: chunk, Err: err}
			report.FailedChunks++
			report.Errors = append(report.Errors, serr.Error())
			imp.obs.Log().Warn().Err(err).Int("chunk", chunk).Msg("chunk rejected by memory store")
			continue
		}
		report.Imported += len(entries)
	}

	imp.maintain(ctx, report)
	report.Duration = time.Since(start)

	imp.obs.Log().Info().
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("failed_chunks", report.FailedChunks).
		Msg("batch chat import complete")

	return report, nil
}

// ImportAnalyzed stores each record individually with full analysis of
// importance and emotional intensity. Slower than Import; meant for small
// hand-picked record sets.
func (imp *Importer) ImportAnalyzed(ctx context.Context, records []RawChatRecord) (*ImportReport, error) {
	ctx, span := imp.obs.StartSpan(ctx, "memory_import_analyzed")
	defer span.End()

	start := time.Now()
	report := &ImportReport{Total: len(records)}

	for i, raw := range records {
		entry, err := imp.norm.Normalize(raw)
		if err != nil {
			report.Skipped++
			continue
		}
		if err := imp.sink.Add(ctx, entry); err != nil {
			serr := &StoreError{Chunk: i + 1, Err: err}
			report.FailedChunks++
			report.Errors = append(report.Errors, serr.Error())
			imp.obs.Log().Warn().Err(err).Int("record", i+1).Msg("record rejected by memory store")
			continue
		}
		report.Imported++
	}

	imp.maintain(ctx, report)
	report.Duration = time.Since(start)

	imp.obs.Log().Info().
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Msg("analyzed chat import complete")

	return report, nil
}

// ImportFile reads a chat export file and imports it. A non-array top
// level is fatal and surfaces to the caller.
func (imp *Importer) ImportFile(ctx context.Context, path string, batch bool, batchSize int) (*ImportReport, error) {
	records, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if batch {
		return imp.Import(ctx, records, batchSize)
	}
	return imp.ImportAnalyzed(ctx, records)
}

func (imp *Importer) normalizeChunk(records []RawChatRecord, report *ImportReport) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, raw := range records {
		entry, err := imp.norm.Normalize(raw)
		if err != nil {
			report.Skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// maintain fires the consolidation pass. Runs at most once per import
// call; a failure is logged, not surfaced, so the caller still receives
// the best-effort report.
func (imp *Importer) maintain(ctx context.Context, report *ImportReport) {
	if err := imp.sink.Consolidate(ctx); err != nil {
		imp.obs.Log().Warn().Err(err).Msg("post-import maintenance failed")
		report.Errors = append(report.Errors, "maintenance: "+err.Error())
	}
}
