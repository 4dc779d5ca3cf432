package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/jarvis/internal/backup"
	"github.com/felixgeelhaar/jarvis/internal/importer"
	"github.com/felixgeelhaar/jarvis/internal/memory"
)

// liveDataRewrites maps chat phrases to the endpoint that answers them.
// First match wins.
var liveDataRewrites = []struct {
	phrase      string
	url         string
	instruction string
}{
	{"看下头条热榜", "https://whyta.cn/api/toutiao?key=36de5db81215", "present the current top headlines"},
	{"看下每日简报", "https://whyta.cn/api/tx/bulletin?key=36de5db81215", "present today's news bulletin"},
	{"看下抖音热搜", "https://whyta.cn/api/tx/douyinhot?key=36de5db81215", "present the trending Douyin searches"},
}

var (
	weatherPattern = regexp.MustCompile(`看下([\p{Han}A-Za-z]+)天气`)
	coinPattern    = regexp.MustCompile(`看下([\p{Han}A-Za-z]+)币`)
)

// handleControl answers exact control commands without a provider
// round-trip. Caller holds a.mu.
func (a *Assistant) handleControl(ctx context.Context, input string) (string, bool) {
	switch strings.ToLower(input) {
	case "clear_his":
		if err := a.store.ClearMessages(a.session.ID); err != nil {
			return "Failed to clear history: " + err.Error(), true
		}
		a.history = nil
		a.summary = ""
		return "Conversation history cleared.", true

	case "dbback":
		if a.backup == nil {
			return "Backups are not configured.", true
		}
		path, size, err := a.backup.Backup(ctx)
		if err != nil {
			return "Backup failed: " + err.Error(), true
		}
		a.bus.PublishWithData(EventBackupComplete, a.session.ID, map[string]interface{}{
			"path": path,
			"size": size,
		})
		return fmt.Sprintf("Backup written to %s (%s).", a.backup.Trim(path), backup.FormatSize(size)), true

	case "savelog":
		if a.backup == nil {
			return "Backups are not configured.", true
		}
		artifact, err := a.backup.SaveMemoryLog(ctx, a.session.ID)
		if err != nil {
			return "Failed to save memory log: " + err.Error(), true
		}
		return fmt.Sprintf("Memory log saved to %s (%s).", artifact.Path, backup.FormatSize(artifact.Size)), true

	case "sleep":
		return a.maintain(ctx, false), true

	case "sleep_short":
		return a.maintain(ctx, true), true

	case "context_summary":
		return a.contextSummary(), true
	}
	return "", false
}

// maintain runs a consolidation pass and reports what changed.
func (a *Assistant) maintain(ctx context.Context, shortTermOnly bool) string {
	report, err := a.engine.Maintain(ctx, memory.MaintenanceOptions{ShortTermOnly: shortTermOnly})
	if err != nil {
		return "Maintenance failed: " + err.Error()
	}

	a.bus.PublishWithData(EventMaintenanceComplete, a.session.ID, map[string]interface{}{
		"examined": report.Examined,
		"merged":   report.MergedGroups,
	})

	var tiers []string
	for _, tier := range memory.Tiers {
		tiers = append(tiers, fmt.Sprintf("%s %d", tier, report.TierCounts[tier]))
	}
	return fmt.Sprintf("Maintenance complete: examined %d memories, merged %d groups in %s. Tiers: %s.",
		report.Examined, report.MergedGroups, report.Duration.Round(time.Millisecond),
		strings.Join(tiers, ", "))
}

// contextSummary reports the live prompt window without a model call.
func (a *Assistant) contextSummary() string {
	if a.summary == "" && len(a.history) == 0 {
		return "No conversation context yet."
	}
	s := fmt.Sprintf("Context window holds %d messages.", len(a.history))
	if a.summary != "" {
		s += "\nSummary so far: " + a.summary
	}
	return s
}

// handleImport dispatches the chat-import directives. Longer prefixes
// are tested first so @import_chat does not swallow @import_chat_file.
// Caller holds a.mu.
func (a *Assistant) handleImport(ctx context.Context, input string) (string, bool) {
	switch {
	case strings.HasPrefix(input, "@batch_import_chat"):
		return a.importBatch(ctx, strings.TrimSpace(strings.TrimPrefix(input, "@batch_import_chat"))), true
	case strings.HasPrefix(input, "@import_chat_file"):
		return a.importFromFile(ctx, strings.TrimSpace(strings.TrimPrefix(input, "@import_chat_file"))), true
	case strings.HasPrefix(input, "@import_chat"):
		return a.importInline(ctx, strings.TrimSpace(strings.TrimPrefix(input, "@import_chat"))), true
	}
	return "", false
}

func (a *Assistant) importInline(ctx context.Context, payload string) string {
	if a.importer == nil {
		return "Chat import is not configured."
	}
	if payload == "" {
		return "Usage: @import_chat <json>"
	}
	records, err := importer.ParseRecords([]byte(payload))
	if err != nil {
		return "Import failed: " + err.Error()
	}
	report, err := a.importer.ImportAnalyzed(ctx, records)
	if err != nil {
		return "Import failed: " + err.Error()
	}
	a.publishImport(report)
	return report.Summary()
}

func (a *Assistant) importBatch(ctx context.Context, args string) string {
	if a.importer == nil {
		return "Chat import is not configured."
	}
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		return "Usage: @batch_import_chat <batch_size> <json>"
	}
	size, err := strconv.Atoi(parts[0])
	if err != nil || size <= 0 {
		return "Usage: @batch_import_chat <batch_size> <json>"
	}
	records, err := importer.ParseRecords([]byte(strings.TrimSpace(parts[1])))
	if err != nil {
		return "Import failed: " + err.Error()
	}
	report, err := a.importer.Import(ctx, records, size)
	if err != nil {
		return "Import failed: " + err.Error()
	}
	a.publishImport(report)
	return report.Summary()
}

func (a *Assistant) importFromFile(ctx context.Context, args string) string {
	if a.importer == nil {
		return "Chat import is not configured."
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Usage: @import_chat_file <path> [batch=true] [batch_size=50]"
	}

	path := fields[0]
	batch := true
	size := importer.DefaultBatchSize
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "batch_size="):
			if n, err := strconv.Atoi(strings.TrimPrefix(f, "batch_size=")); err == nil && n > 0 {
				size = n
			}
		case strings.HasPrefix(f, "batch="):
			batch = parseBoolParam(strings.TrimPrefix(f, "batch="))
		}
	}

	if v := a.guard.CheckImportPath(path); v != nil {
		return "Import blocked: " + v.Message
	}

	report, err := a.importer.ImportFile(ctx, path, batch, size)
	if err != nil {
		return "Import failed: " + err.Error()
	}
	a.publishImport(report)
	return report.Summary()
}

func (a *Assistant) publishImport(report *importer.ImportReport) {
	a.bus.PublishWithData(EventImportComplete, a.session.ID, map[string]interface{}{
		"imported": report.Imported,
		"total":    report.Total,
		"summary":  report.Summary(),
	})
}

func parseBoolParam(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// applyWebSearch resolves the @web prefix: the query runs through the
// search client and the findings ride along in the prompt. On failure
// the bare query continues through the normal flow.
func (a *Assistant) applyWebSearch(ctx context.Context, input string) string {
	if !strings.HasPrefix(input, "@web") {
		return input
	}
	query := strings.TrimSpace(strings.TrimPrefix(input, "@web"))
	if query == "" {
		return input
	}
	if a.search == nil {
		a.obs.Log().Warn().Msg("web search requested but not configured")
		return query
	}
	result, err := a.search.Search(ctx, query)
	if err != nil {
		a.obs.Log().Warn().Err(err).Msg("web search failed, answering without it")
		return query
	}
	return query + "\n\nWeb search results:\n" + result.Content
}

// rewriteLiveData turns known live-data phrases into fetch_url
// instructions so the model pulls fresh data instead of guessing.
func (a *Assistant) rewriteLiveData(input string) string {
	for _, rw := range liveDataRewrites {
		if strings.Contains(input, rw.phrase) {
			return fmt.Sprintf("Fetch %s with the fetch_url tool and %s.", rw.url, rw.instruction)
		}
	}
	if m := weatherPattern.FindStringSubmatch(input); m != nil {
		return fmt.Sprintf("Fetch https://wttr.in/%s with the fetch_url tool and report the weather for %s.", m[1], m[1])
	}
	if m := coinPattern.FindStringSubmatch(input); m != nil {
		return fmt.Sprintf("Fetch https://api.coingecko.com/api/v3/coins/%s with the fetch_url tool and summarize this coin's status.", m[1])
	}
	return input
}
