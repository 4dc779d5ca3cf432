// Package memory implements a tiered episodic memory system. Traces live
// in working, short-term and long-term vector collections; recall searches
// the tiers in order and follows an association graph, and a maintenance
// pass merges semantically similar traces to bound growth.
package memory

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Tier identifies a memory residency layer.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Tiers lists the residency layers in recall priority order.
var Tiers = []Tier{TierWorking, TierShortTerm, TierLongTerm}

// Type classifies the kind of knowledge a trace holds.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
)

// Trace is the stored memory unit.
type Trace struct {
	ID                 string
	Content            string
	Timestamp          time.Time
	Importance         float64
	EmotionalIntensity float64
	ContextTags        []string
	RecallCount        int
	LastRecall         time.Time
	Type               Type
	Source             map[string]string
	MergedFrom         []string

	// Filled on load or query, never persisted directly.
	Tier       Tier
	Similarity float32
	Embedding  []float32
}

// Metadata keys used in the vector store. Everything else in a record's
// metadata is treated as source carry-through.
const (
	metaTimestamp      = "timestamp"
	metaTimestampFloat = "timestamp_float"
	metaImportance     = "importance"
	metaIntensity      = "emotional_intensity"
	metaContextTags    = "context_tags"
	metaRecallCount    = "recall_count"
	metaLastRecall     = "last_recall"
	metaMemoryType     = "memory_type"
	metaMergedFrom     = "merged_from"
)

// Record is the wire unit the vector store persists.
type Record struct {
	ID         string
	Content    string
	Embedding  []float32
	Metadata   map[string]string
	Similarity float32
}

// Store is the pass-through adapter over the vector database. It enforces
// no invariants of its own; tier placement and merge policy live in the
// Engine. Query filters follow the store's semantics: where matches
// metadata exactly, whereDocument supports content contains filters.
type Store interface {
	Add(ctx context.Context, tier Tier, records []Record) error
	Get(ctx context.Context, tier Tier, ids []string) ([]Record, error)
	Query(ctx context.Context, tier Tier, embedding []float32, limit int, where, whereDocument map[string]string) ([]Record, error)
	Update(ctx context.Context, tier Tier, rec Record) error
	Delete(ctx context.Context, tier Tier, ids ...string) error
	Count(ctx context.Context, tier Tier) (int, error)
	All(ctx context.Context, tier Tier) ([]Record, error)
}

// Record converts a trace to its stored form.
func (t *Trace) Record() Record {
	tags := t.ContextTags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	md := map[string]string{
		metaTimestamp:      t.Timestamp.Format(time.RFC3339),
		metaTimestampFloat: strconv.FormatFloat(float64(t.Timestamp.UnixNano())/1e9, 'f', 6, 64),
		metaImportance:     strconv.FormatFloat(t.Importance, 'f', -1, 64),
		metaIntensity:      strconv.FormatFloat(t.EmotionalIntensity, 'f', -1, 64),
		metaContextTags:    string(tagsJSON),
		metaRecallCount:    strconv.Itoa(t.RecallCount),
		metaMemoryType:     string(t.Type),
	}
	if !t.LastRecall.IsZero() {
		md[metaLastRecall] = t.LastRecall.Format(time.RFC3339)
	}
	if len(t.MergedFrom) > 0 {
		merged, _ := json.Marshal(t.MergedFrom)
		md[metaMergedFrom] = string(merged)
	}
	for k, v := range t.Source {
		if _, reserved := md[k]; !reserved {
			md[k] = v
		}
	}

	return Record{
		ID:        t.ID,
		Content:   t.Content,
		Embedding: t.Embedding,
		Metadata:  md,
	}
}

// TraceFromRecord rebuilds a trace from its stored form.
func TraceFromRecord(rec Record, tier Tier) Trace {
	t := Trace{
		ID:         rec.ID,
		Content:    rec.Content,
		Type:       TypeEpisodic,
		Source:     make(map[string]string),
		Tier:       tier,
		Similarity: rec.Similarity,
		Embedding:  rec.Embedding,
	}

	for k, v := range rec.Metadata {
		switch k {
		case metaTimestamp:
			t.Timestamp, _ = time.Parse(time.RFC3339, v)
		case metaTimestampFloat:
			// Fallback only; handled below when timestamp is missing.
		case metaImportance:
			t.Importance = parseScore(v)
		case metaIntensity:
			t.EmotionalIntensity = parseScore(v)
		case metaContextTags:
			_ = json.Unmarshal([]byte(v), &t.ContextTags)
		case metaRecallCount:
			t.RecallCount, _ = strconv.Atoi(v)
		case metaLastRecall:
			t.LastRecall, _ = time.Parse(time.RFC3339, v)
		case metaMemoryType:
			t.Type = Type(v)
		case metaMergedFrom:
			_ = json.Unmarshal([]byte(v), &t.MergedFrom)
		default:
			t.Source[k] = v
		}
	}

	if t.Timestamp.IsZero() {
		if raw := rec.Metadata[metaTimestampFloat]; raw != "" {
			if secs, err := strconv.ParseFloat(raw, 64); err == nil {
				t.Timestamp = time.Unix(0, int64(secs*1e9))
			}
		}
	}

	return t
}

func parseScore(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return clampScore(v)
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
