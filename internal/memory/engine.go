package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/provider"
)

// Params tunes placement and consolidation.
type Params struct {
	ConsolidationThreshold float64
	MergeThreshold         float64
	RecallLimit            int
}

func DefaultParams() Params {
	return Params{
		ConsolidationThreshold: 0.5,
		MergeThreshold:         0.95,
		RecallLimit:            5,
	}
}

// associationThreshold is the minimum similarity for linking two traces.
const associationThreshold = 0.6

// Engine coordinates the memory tiers. All mutating operations serialize
// on one mutex, which also settles how imports and consolidation overlap:
// a maintenance pass never observes a half-written import.
type Engine struct {
	mu       sync.Mutex
	store    Store
	analyzer *Analyzer
	graph    *Graph
	embedder provider.Provider
	obs      *observe.Observer
	params   Params

	strengthens sync.WaitGroup
}

func NewEngine(store Store, roles provider.Roles, graph *Graph, obs *observe.Observer, params Params) (*Engine, error) {
	if params.ConsolidationThreshold <= 0 {
		params.ConsolidationThreshold = DefaultParams().ConsolidationThreshold
	}
	if params.MergeThreshold <= 0 {
		params.MergeThreshold = DefaultParams().MergeThreshold
	}
	if params.RecallLimit <= 0 {
		params.RecallLimit = DefaultParams().RecallLimit
	}

	analyzer, err := NewAnalyzer(roles.Chat, obs)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:    store,
		analyzer: analyzer,
		graph:    graph,
		embedder: roles.Embedder,
		obs:      obs,
		params:   params,
	}, nil
}

// Close waits for in-flight strengthening and releases the analyzer.
func (e *Engine) Close() {
	e.strengthens.Wait()
	e.analyzer.Close()
}

// Remember analyzes and stores one memory, placing it by importance.
func (e *Engine) Remember(ctx context.Context, content string, memType Type, source map[string]string) (*Trace, error) {
	return e.RememberAt(ctx, content, time.Now(), memType, source)
}

// RememberAt is Remember with an explicit event time, used when the
// memory describes something that happened in the past.
func (e *Engine) RememberAt(ctx context.Context, content string, ts time.Time, memType Type, source map[string]string) (*Trace, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("memory content is empty")
	}

	intensity, importance := e.analyzer.EmotionAndImportance(ctx, content)
	tags := e.analyzer.ContextTags(ctx, content)

	trace := Trace{
		ID:                 uuid.NewString(),
		Content:            content,
		Timestamp:          ts,
		Importance:         importance,
		EmotionalIntensity: intensity,
		ContextTags:        tags,
		LastRecall:         ts,
		Type:               memType,
		Source:             source,
		Tier:               TierShortTerm,
	}
	if importance > 0.8 || intensity > 0.8 {
		trace.Tier = TierLongTerm
	}

	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory: %w", err)
	}
	trace.Embedding = vec

	if err := e.store.Add(ctx, trace.Tier, []Record{trace.Record()}); err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}

	e.associate(ctx, &trace)

	e.obs.Log().Debug().
		Str("id", trace.ID).
		Str("tier", string(trace.Tier)).
		Msg("memory stored")
	return &trace, nil
}

// BatchItem is one pre-scored memory for bulk ingestion.
type BatchItem struct {
	Content            string
	Timestamp          time.Time
	Importance         float64
	EmotionalIntensity float64
	Source             map[string]string
}

// RememberBatch stores many memories in one add, skipping per-item model
// calls. Bulk-ingested history goes straight to long-term.
func (e *Engine) RememberBatch(ctx context.Context, items []BatchItem) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	records := make([]Record, 0, len(items))
	ids := make([]string, 0, len(items))

	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		ts := item.Timestamp
		if ts.IsZero() {
			ts = now
		}

		trace := Trace{
			ID:                 uuid.NewString(),
			Content:            content,
			Timestamp:          ts,
			Importance:         clampScore(item.Importance),
			EmotionalIntensity: clampScore(item.EmotionalIntensity),
			LastRecall:         now,
			Type:               TypeEpisodic,
			Source:             item.Source,
			Tier:               TierLongTerm,
		}

		vec, err := e.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch item: %w", err)
		}
		trace.Embedding = vec

		records = append(records, trace.Record())
		ids = append(ids, trace.ID)
	}

	if len(records) == 0 {
		return nil, nil
	}
	if err := e.store.Add(ctx, TierLongTerm, records); err != nil {
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	e.obs.Log().Info().Int("count", len(records)).Msg("batch memories stored")
	return ids, nil
}

// Recall finds up to limit memories related to the query. Tiers are
// searched in priority order, keyword matches ranking above vector
// neighbors, and the association graph fills any remainder. Recalled
// traces strengthen asynchronously.
func (e *Engine) Recall(ctx context.Context, query string, limit int) []Trace {
	if limit <= 0 {
		limit = e.params.RecallLimit
	}

	keywords := e.analyzer.Keywords(ctx, query)

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.obs.Log().Warn().Err(err).Msg("query embedding failed")
		return nil
	}

	seenContent := make(map[string]bool)
	seenIDs := make(map[string]bool)
	var found []Trace

	add := func(traces []Trace) {
		for _, tr := range traces {
			if len(found) >= limit {
				return
			}
			content := strings.TrimSpace(tr.Content)
			if content == "" || content == strings.TrimSpace(query) {
				continue
			}
			if seenContent[content] || seenIDs[tr.ID] {
				continue
			}
			seenContent[content] = true
			seenIDs[tr.ID] = true
			found = append(found, tr)
		}
	}

	for _, tier := range Tiers {
		if len(found) >= limit {
			break
		}
		add(e.searchTier(ctx, tier, queryVec, keywords, limit-len(found)))
	}

	if len(found) < limit {
		var neighborIDs []string
		for _, tr := range found {
			for _, id := range e.graph.Neighbors(tr.ID) {
				if !seenIDs[id] {
					neighborIDs = append(neighborIDs, id)
				}
			}
		}
		for _, tier := range Tiers {
			if len(found) >= limit || len(neighborIDs) == 0 {
				break
			}
			recs, err := e.store.Get(ctx, tier, neighborIDs)
			if err != nil {
				continue
			}
			traces := make([]Trace, 0, len(recs))
			for _, rec := range recs {
				traces = append(traces, TraceFromRecord(rec, tier))
			}
			add(traces)
		}
	}

	if len(found) > 0 {
		recalled := make([]Trace, len(found))
		copy(recalled, found)
		e.strengthens.Add(1)
		go func() {
			defer e.strengthens.Done()
			e.strengthen(context.Background(), recalled)
		}()
	}

	return found
}

func (e *Engine) searchTier(ctx context.Context, tier Tier, queryVec []float32, keywords []string, limit int) []Trace {
	var out []Trace
	seen := make(map[string]bool)

	appendRecs := func(recs []Record) {
		for _, rec := range recs {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			out = append(out, TraceFromRecord(rec, tier))
		}
	}

	for _, kw := range keywords {
		if len(out) >= limit {
			break
		}
		recs, err := e.store.Query(ctx, tier, queryVec, limit-len(out), nil, map[string]string{"$contains": kw})
		if err != nil {
			e.obs.Log().Warn().Err(err).Str("tier", string(tier)).Msg("keyword search failed")
			continue
		}
		appendRecs(recs)
	}

	if len(out) < limit {
		recs, err := e.store.Query(ctx, tier, queryVec, limit-len(out), nil, nil)
		if err != nil {
			e.obs.Log().Warn().Err(err).Str("tier", string(tier)).Msg("vector search failed")
		} else {
			appendRecs(recs)
		}
	}

	return out
}

// strengthen bumps recall counts and promotes traces whose consolidation
// score (importance x recalls) clears the threshold.
func (e *Engine) strengthen(ctx context.Context, traces []Trace) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for _, tr := range traces {
		tr.RecallCount++
		tr.LastRecall = now

		score := tr.Importance * float64(tr.RecallCount)
		if score > e.params.ConsolidationThreshold && tr.Tier != TierLongTerm {
			if err := e.promote(ctx, tr); err != nil {
				e.obs.Log().Warn().Err(err).Str("id", tr.ID).Msg("consolidation failed")
			}
			continue
		}

		if err := e.store.Update(ctx, tr.Tier, tr.Record()); err != nil {
			e.obs.Log().Warn().Err(err).Str("id", tr.ID).Msg("strengthen update failed")
		}
	}
}

// promote moves a trace to long-term, removing it from its old tier.
func (e *Engine) promote(ctx context.Context, tr Trace) error {
	if err := e.store.Delete(ctx, tr.Tier, tr.ID); err != nil {
		return err
	}
	from := tr.Tier
	tr.Tier = TierLongTerm
	if err := e.store.Add(ctx, TierLongTerm, []Record{tr.Record()}); err != nil {
		return err
	}
	e.obs.Log().Info().Str("id", tr.ID).Str("from", string(from)).Msg("memory consolidated to long-term")
	return nil
}

// associate links a fresh trace to its nearest neighbors. Long-term
// memories take priority when candidates compete for the cap.
func (e *Engine) associate(ctx context.Context, trace *Trace) {
	linked := 0
	for _, tier := range []Tier{TierLongTerm, TierShortTerm, TierWorking} {
		if linked >= MaxAssociations {
			break
		}
		recs, err := e.store.Query(ctx, tier, trace.Embedding, MaxAssociations, nil, nil)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			if rec.ID == trace.ID || rec.Similarity < associationThreshold {
				continue
			}
			e.graph.Link(trace.ID, rec.ID)
			linked++
			if linked >= MaxAssociations {
				break
			}
		}
	}

	if linked > 0 {
		if err := e.graph.Save(); err != nil {
			e.obs.Log().Warn().Err(err).Msg("memory graph save failed")
		}
	}
}

// MaintenanceOptions selects which tiers a maintenance pass covers.
type MaintenanceOptions struct {
	ShortTermOnly bool
}

// MaintenanceReport summarizes one consolidation pass.
type MaintenanceReport struct {
	Examined     int
	MergedGroups int
	TierCounts   map[Tier]int
	Duration     time.Duration
}

// Maintain merges semantically similar traces. Fired once per completed
// import, and by the sleep directives.
func (e *Engine) Maintain(ctx context.Context, opts MaintenanceOptions) (*MaintenanceReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	report := &MaintenanceReport{TierCounts: make(map[Tier]int)}

	tiers := Tiers
	if opts.ShortTermOnly {
		tiers = []Tier{TierWorking, TierShortTerm}
	}

	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.mergeTier(ctx, tier, report)
	}

	report.Duration = time.Since(start)
	e.obs.Log().Info().
		Int("examined", report.Examined).
		Int("merged_groups", report.MergedGroups).
		Msg("memory maintenance complete")
	return report, nil
}

func (e *Engine) mergeTier(ctx context.Context, tier Tier, report *MaintenanceReport) {
	recs, err := e.store.All(ctx, tier)
	if err != nil {
		e.obs.Log().Warn().Err(err).Str("tier", string(tier)).Msg("maintenance load failed")
		return
	}

	report.Examined += len(recs)
	report.TierCounts[tier] = len(recs)
	if len(recs) < 2 {
		return
	}

	traces := make([]Trace, len(recs))
	for i, rec := range recs {
		traces[i] = TraceFromRecord(rec, tier)
	}

	// Most important traces seed groups first.
	sort.SliceStable(traces, func(i, j int) bool {
		return traces[i].Importance > traces[j].Importance
	})
	index := make(map[string]int, len(traces))
	for i, tr := range traces {
		index[tr.ID] = i
	}

	assigned := make(map[string]bool, len(traces))
	var groups [][]Trace

	for i := range traces {
		seed := traces[i]
		if assigned[seed.ID] {
			continue
		}
		assigned[seed.ID] = true
		group := []Trace{seed}

		// Graph neighbors first, then the remaining candidates.
		for _, id := range e.graph.Neighbors(seed.ID) {
			j, ok := index[id]
			if !ok || assigned[id] {
				continue
			}
			if float64(cosineSimilarity(seed.Embedding, traces[j].Embedding)) > e.params.MergeThreshold {
				assigned[id] = true
				group = append(group, traces[j])
			}
		}
		for j := i + 1; j < len(traces); j++ {
			cand := traces[j]
			if assigned[cand.ID] {
				continue
			}
			if float64(cosineSimilarity(seed.Embedding, cand.Embedding)) > e.params.MergeThreshold {
				assigned[cand.ID] = true
				group = append(group, cand)
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
		}
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}
		if err := e.mergeGroup(ctx, tier, group); err != nil {
			e.obs.Log().Warn().Err(err).Int("group_size", len(group)).Msg("merge failed")
			continue
		}
		report.MergedGroups++
	}
}

// mergeGroup folds a group of similar traces into one: content comes from
// the model, scores are weighted averages, tags union, recall counts sum,
// timestamps take the newest member, and the sources disappear.
func (e *Engine) mergeGroup(ctx context.Context, tier Tier, group []Trace) error {
	sort.SliceStable(group, func(i, j int) bool {
		return mergeWeight(group[i]) > mergeWeight(group[j])
	})

	docs := make([]string, len(group))
	for i, tr := range group {
		docs[i] = tr.Content
	}
	content, err := e.analyzer.MergeContent(ctx, docs)
	if err != nil {
		return err
	}

	var weightSum float64
	weights := make([]float64, len(group))
	for i, tr := range group {
		weights[i] = mergeWeight(tr)
		weightSum += weights[i]
	}
	if weightSum == 0 {
		weightSum = 1
	}

	merged := Trace{
		ID:      uuid.NewString(),
		Content: content,
		Type:    group[0].Type,
		Source:  group[0].Source,
		Tier:    tier,
	}

	tagSet := make(map[string]bool)
	oldIDs := make([]string, len(group))
	for i, tr := range group {
		w := weights[i] / weightSum
		merged.Importance += tr.Importance * w
		merged.EmotionalIntensity += tr.EmotionalIntensity * w
		merged.RecallCount += tr.RecallCount
		if tr.Timestamp.After(merged.Timestamp) {
			merged.Timestamp = tr.Timestamp
		}
		if tr.LastRecall.After(merged.LastRecall) {
			merged.LastRecall = tr.LastRecall
		}
		for _, tag := range tr.ContextTags {
			tagSet[tag] = true
		}
		oldIDs[i] = tr.ID
	}
	merged.MergedFrom = oldIDs
	for tag := range tagSet {
		merged.ContextTags = append(merged.ContextTags, tag)
	}
	sort.Strings(merged.ContextTags)

	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed merged memory: %w", err)
	}
	merged.Embedding = vec

	if err := e.store.Add(ctx, tier, []Record{merged.Record()}); err != nil {
		return fmt.Errorf("failed to store merged memory: %w", err)
	}

	for _, t := range Tiers {
		if err := e.store.Delete(ctx, t, oldIDs...); err != nil {
			e.obs.Log().Warn().Err(err).Str("tier", string(t)).Msg("merged source delete failed")
		}
	}

	e.graph.Rewire(oldIDs, merged.ID)
	if err := e.graph.Save(); err != nil {
		e.obs.Log().Warn().Err(err).Msg("memory graph save failed")
	}

	e.obs.Log().Info().
		Int("sources", len(group)).
		Str("id", merged.ID).
		Str("tier", string(tier)).
		Msg("similar memories merged")
	return nil
}

func mergeWeight(tr Trace) float64 {
	return tr.Importance*0.7 + tr.EmotionalIntensity*0.3
}

// forgetThreshold is the score above which a stale trace is dropped.
const forgetThreshold = 0.7

// ForgetStale deletes traces whose forget score clears the threshold,
// weighing age, importance, recalls and associations. Manual operation;
// never part of the import-triggered maintenance.
func (e *Engine) ForgetStale(ctx context.Context, thresholdDays int) (int, error) {
	if thresholdDays <= 0 {
		thresholdDays = 30
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	window := float64(thresholdDays) * 24 * 3600
	now := float64(time.Now().UnixNano()) / 1e9

	deleted := 0
	for _, tier := range Tiers {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		recs, err := e.store.All(ctx, tier)
		if err != nil {
			e.obs.Log().Warn().Err(err).Str("tier", string(tier)).Msg("forget load failed")
			continue
		}

		var doomed []string
		for _, rec := range recs {
			tr := TraceFromRecord(rec, tier)

			age := now - float64(tr.Timestamp.UnixNano())/1e9
			timeFactor := 1.0 - math.Min(1.0, age/window)
			recallFactor := math.Min(1.0, float64(tr.RecallCount)/5.0)

			associationFactor := 1.0
			if neighbors := e.graph.Neighbors(tr.ID); len(neighbors) > 0 {
				nrecs, err := e.store.Get(ctx, tier, neighbors)
				if err == nil && len(nrecs) > 0 {
					sum := 0.0
					for _, nr := range nrecs {
						sum += TraceFromRecord(nr, tier).Importance
					}
					avg := sum / float64(len(neighbors))
					associationFactor = math.Max(0.5, math.Min(1.0, avg))
				}
			}

			score := 0.4*(1-timeFactor) +
				0.3*(1-tr.Importance) +
				0.2*(1-recallFactor) +
				0.1*(1-associationFactor)

			if score > forgetThreshold {
				doomed = append(doomed, tr.ID)
			}
		}

		if len(doomed) == 0 {
			continue
		}
		if err := e.store.Delete(ctx, tier, doomed...); err != nil {
			e.obs.Log().Warn().Err(err).Str("tier", string(tier)).Msg("forget delete failed")
			continue
		}
		for _, id := range doomed {
			e.graph.Remove(id)
		}
		deleted += len(doomed)
	}

	if deleted > 0 {
		if err := e.graph.Save(); err != nil {
			e.obs.Log().Warn().Err(err).Msg("memory graph save failed")
		}
		e.obs.Log().Info().Int("deleted", deleted).Msg("stale memories forgotten")
	}
	return deleted, nil
}

// Counts reports how many traces live in each tier.
func (e *Engine) Counts(ctx context.Context) map[Tier]int {
	out := make(map[Tier]int, len(Tiers))
	for _, tier := range Tiers {
		n, err := e.store.Count(ctx, tier)
		if err != nil {
			continue
		}
		out[tier] = n
	}
	return out
}

// Export renders every stored trace grouped by tier, newest last, for
// the savelog dump.
func (e *Engine) Export(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sb strings.Builder
	for _, tier := range Tiers {
		recs, err := e.store.All(ctx, tier)
		if err != nil {
			return "", fmt.Errorf("failed to load %s memories: %w", tier, err)
		}

		traces := make([]Trace, len(recs))
		for i, rec := range recs {
			traces[i] = TraceFromRecord(rec, tier)
		}
		sort.SliceStable(traces, func(i, j int) bool {
			return traces[i].Timestamp.Before(traces[j].Timestamp)
		})

		fmt.Fprintf(&sb, "=== %s (%d) ===\n", tier, len(traces))
		for _, tr := range traces {
			fmt.Fprintf(&sb, "[%s] %s\n", tr.Timestamp.Format("2006-01-02 15:04:05"), tr.Content)
			if len(tr.ContextTags) > 0 {
				fmt.Fprintf(&sb, "    tags: %s\n", strings.Join(tr.ContextTags, ", "))
			}
			fmt.Fprintf(&sb, "    importance=%.2f intensity=%.2f recalls=%d\n",
				tr.Importance, tr.EmotionalIntensity, tr.RecallCount)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "association graph: %d linked traces\n", e.graph.Len())
	return sb.String(), nil
}
