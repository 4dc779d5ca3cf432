// Package chromem persists memory records in an embedded chromem-go
// vector database, one collection per tier.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/felixgeelhaar/jarvis/internal/memory"
)

// probeText seeds the reference embedding used to page through a whole
// collection; chromem-go exposes no list operation.
const probeText = "memory"

// EmbedFunc produces the embedding for a piece of text. It matches
// chromem-go's EmbeddingFunc shape so provider embedders plug in
// directly.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store implements memory.Store over chromem-go. It is a pass-through
// adapter: tier placement and merge policy stay in the memory engine.
type Store struct {
	db    *chromem.DB
	base  string
	embed EmbedFunc

	mu          sync.RWMutex
	collections map[memory.Tier]*chromem.Collection

	probeMu sync.Mutex
	probe   []float32
}

// New opens a persistent store under dir. An empty dir keeps everything
// in memory, which is what tests want. base prefixes the per-tier
// collection names, e.g. jarvis_long_term.
func New(dir, base string, embed EmbedFunc) (*Store, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	}
	return &Store{
		db:          db,
		base:        base,
		embed:       embed,
		collections: make(map[memory.Tier]*chromem.Collection),
	}, nil
}

func (s *Store) collectionName(tier memory.Tier) string {
	return fmt.Sprintf("%s_%s", s.base, tier)
}

// getOrCreate returns the tier's collection, creating it on first use.
// Collections loaded from disk come back without an embedding function,
// so it is re-attached here.
func (s *Store) getOrCreate(tier memory.Tier) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[tier]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, ok := s.collections[tier]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(s.collectionName(tier), nil, chromem.EmbeddingFunc(s.embed))
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", s.collectionName(tier), err)
	}
	s.collections[tier] = col
	return col, nil
}

// Add inserts records into the tier. Records must carry embeddings; the
// store never computes them.
func (s *Store) Add(ctx context.Context, tier memory.Tier, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := s.getOrCreate(tier)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, toDocument(rec))
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	s.rememberProbe(records[0].Embedding)
	return nil
}

// Get fetches records by id. IDs that are no longer present, for
// example after a merge, are skipped rather than reported.
func (s *Store) Get(ctx context.Context, tier memory.Tier, ids []string) ([]memory.Record, error) {
	col, err := s.getOrCreate(tier)
	if err != nil {
		return nil, err
	}
	records := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, recordFromDocument(doc))
	}
	return records, nil
}

// Query returns the tier's nearest records by cosine similarity.
// chromem-go rejects result counts above the matching document count,
// so the limit is clamped to the collection size and shrunk further
// when a filter narrows the match set.
func (s *Store) Query(ctx context.Context, tier memory.Tier, embedding []float32, limit int, where, whereDocument map[string]string) ([]memory.Record, error) {
	col, err := s.getOrCreate(tier)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}
	for ; limit >= 1; limit-- {
		results, err := col.QueryEmbedding(ctx, embedding, limit, where, whereDocument)
		if err == nil {
			records := make([]memory.Record, 0, len(results))
			for _, res := range results {
				records = append(records, recordFromResult(res))
			}
			return records, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("failed to query collection: %w", err)
		}
	}
	// Nothing matched the filters.
	return nil, nil
}

// Update replaces a record in place. chromem-go has no update call, so
// the old document is deleted and re-added under the same id.
func (s *Store) Update(ctx context.Context, tier memory.Tier, rec memory.Record) error {
	col, err := s.getOrCreate(tier)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, rec.ID); err != nil {
		return fmt.Errorf("failed to delete stale record: %w", err)
	}
	if err := col.AddDocument(ctx, toDocument(rec)); err != nil {
		return fmt.Errorf("failed to re-add record: %w", err)
	}
	s.rememberProbe(rec.Embedding)
	return nil
}

// Delete removes records by id. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, tier memory.Tier, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.getOrCreate(tier)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Count reports the number of records in the tier.
func (s *Store) Count(ctx context.Context, tier memory.Tier) (int, error) {
	col, err := s.getOrCreate(tier)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// All returns every record in the tier. chromem-go has no listing call,
// so this runs a full-size similarity query against a reference
// embedding. Result order follows similarity to the probe and carries
// no meaning.
func (s *Store) All(ctx context.Context, tier memory.Tier) ([]memory.Record, error) {
	n, err := s.Count(ctx, tier)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	probe, err := s.probeEmbedding(ctx)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, tier, probe, n, nil, nil)
}

// probeEmbedding returns a cached reference embedding, falling back to
// the embedding function on a cold start over existing data.
func (s *Store) probeEmbedding(ctx context.Context) ([]float32, error) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if s.probe != nil {
		return s.probe, nil
	}
	if s.embed == nil {
		return nil, errors.New("no embedding function configured for full reads")
	}
	probe, err := s.embed(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed probe: %w", err)
	}
	s.probe = probe
	return probe, nil
}

// rememberProbe caches the first embedding that passes through a write
// so All avoids an embedding call in steady state.
func (s *Store) rememberProbe(embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	s.probeMu.Lock()
	if s.probe == nil {
		s.probe = append([]float32(nil), embedding...)
	}
	s.probeMu.Unlock()
}

func toDocument(rec memory.Record) chromem.Document {
	return chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  rec.Metadata,
	}
}

func recordFromDocument(doc chromem.Document) memory.Record {
	return memory.Record{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata:  doc.Metadata,
	}
}

func recordFromResult(res chromem.Result) memory.Record {
	return memory.Record{
		ID:         res.ID,
		Content:    res.Content,
		Embedding:  res.Embedding,
		Metadata:   res.Metadata,
		Similarity: res.Similarity,
	}
}

// isInsufficientDocsError reports whether err is chromem-go rejecting
// an nResults larger than the matching document count.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
