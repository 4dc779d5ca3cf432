// Package assistant runs the conversation loop: chat directives,
// episodic recall, provider calls with tool execution, and context
// summarization into the relational archive.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/jarvis/internal/backup"
	"github.com/felixgeelhaar/jarvis/internal/guard"
	"github.com/felixgeelhaar/jarvis/internal/importer"
	"github.com/felixgeelhaar/jarvis/internal/memory"
	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/persona"
	"github.com/felixgeelhaar/jarvis/internal/provider"
	"github.com/felixgeelhaar/jarvis/internal/store"
	"github.com/felixgeelhaar/jarvis/internal/toolexec"
	"github.com/felixgeelhaar/jarvis/internal/websearch"
)

// rememberTimeout bounds the background analysis of one exchange.
const rememberTimeout = 2 * time.Minute

// keepAfterSummary is how many recent messages survive a context
// summarization verbatim.
const keepAfterSummary = 4

// Config tunes the conversation loop.
type Config struct {
	// SummaryThreshold is the history length that triggers context
	// summarization into the archive.
	SummaryThreshold int
	// HistoryTurns is how many recent exchanges stay in the prompt
	// verbatim.
	HistoryTurns int
	// RecallLimit caps memories folded into each prompt.
	RecallLimit int
}

func DefaultConfig() Config {
	return Config{
		SummaryThreshold: 10,
		HistoryTurns:     5,
		RecallLimit:      5,
	}
}

// Deps wires an assistant. Session, Roles.Chat, Engine, Tools, Guard,
// Store and Observer are required; the rest degrade gracefully when
// absent.
type Deps struct {
	Session  *store.Session
	Persona  *persona.Persona
	Roles    provider.Roles
	Engine   *memory.Engine
	Importer *importer.Importer
	Tools    *toolexec.Executor
	Search   *websearch.Client
	Backup   *backup.Manager
	Guard    *guard.Guard
	Store    store.Storage
	Bus      *EventBus
	Observer *observe.Observer
	Config   Config
}

// Assistant owns one conversation: its history window, persona, memory
// engine and toolchain. One turn runs at a time; Respond serializes so
// concurrent HTTP requests into the same session cannot interleave
// history writes.
type Assistant struct {
	session  *store.Session
	persona  *persona.Persona
	roles    provider.Roles
	engine   *memory.Engine
	importer *importer.Importer
	tools    *toolexec.Executor
	search   *websearch.Client
	backup   *backup.Manager
	guard    *guard.Guard
	store    store.Storage
	bus      *EventBus
	obs      *observe.Observer
	cfg      Config

	mu      sync.Mutex
	history []provider.Message
	summary string

	remembers sync.WaitGroup
}

func New(deps Deps) (*Assistant, error) {
	if deps.Session == nil {
		return nil, errors.New("session is required")
	}
	if deps.Roles.Chat == nil {
		return nil, errors.New("chat provider is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("memory engine is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool executor is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("guard is required")
	}
	if deps.Store == nil {
		return nil, errors.New("storage is required")
	}
	if deps.Observer == nil {
		return nil, errors.New("observer is required")
	}

	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}
	if deps.Bus == nil {
		deps.Bus = NewEventBus()
	}
	cfg := deps.Config
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = DefaultConfig().SummaryThreshold
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultConfig().HistoryTurns
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = DefaultConfig().RecallLimit
	}

	return &Assistant{
		session:  deps.Session,
		persona:  deps.Persona,
		roles:    deps.Roles,
		engine:   deps.Engine,
		importer: deps.Importer,
		tools:    deps.Tools,
		search:   deps.Search,
		backup:   deps.Backup,
		guard:    deps.Guard,
		store:    deps.Store,
		bus:      deps.Bus,
		obs:      deps.Observer,
		cfg:      cfg,
	}, nil
}

// SessionID returns the backing session's ID.
func (a *Assistant) SessionID() string {
	return a.session.ID
}

// Session returns a copy of the session row backing this conversation.
func (a *Assistant) Session() store.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.session
}

// Bus returns the event bus this assistant publishes on.
func (a *Assistant) Bus() *EventBus {
	return a.bus
}

// Greeting returns the persona's opening line.
func (a *Assistant) Greeting() string {
	return a.persona.Greeting
}

// Close waits for in-flight background remembers to land.
func (a *Assistant) Close() {
	a.remembers.Wait()
}

// Respond handles one user turn: control commands and import
// directives answer directly; everything else goes through recall,
// live-data rewriting and the provider tool loop.
func (a *Assistant) Respond(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty input")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if reply, handled := a.handleControl(ctx, input); handled {
		return reply, nil
	}
	if reply, handled := a.handleImport(ctx, input); handled {
		return reply, nil
	}

	input = a.applyWebSearch(ctx, input)
	input = a.rewriteLiveData(input)

	return a.chat(ctx, input)
}

// chat runs the provider loop for one turn. Caller holds a.mu.
func (a *Assistant) chat(ctx context.Context, input string) (string, error) {
	ctx, span := a.obs.StartSessionSpan(ctx, "assistant.chat", a.session.ID)
	defer span.End()

	a.bus.PublishSimple(EventChatStart, a.session.ID)

	traces := a.engine.Recall(ctx, input, a.cfg.RecallLimit)
	messages := a.buildPrompt(input, traces)

	iterations := 0
	promptTokens := 0
	for {
		iterations++
		if v := a.guard.CheckBudget(iterations, promptTokens); v != nil {
			a.bus.PublishWithData(EventGuardViolation, a.session.ID, map[string]interface{}{
				"rule": v.Rule,
			})
			a.obs.Log().Warn().Str("rule", v.Rule).Msg("turn budget exhausted")
			return "", fmt.Errorf("guard violation: %s", v.Message)
		}

		resp, err := a.roles.Chat.Chat(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("chat provider failed: %w", err)
		}
		if resp.Usage.PromptTokens > 0 {
			promptTokens += resp.Usage.PromptTokens
		} else {
			// Backends that report no usage still consume budget.
			promptTokens += provider.EstimateTokens(messages)
		}
		a.bus.PublishWithData(EventProviderResponse, a.session.ID, map[string]interface{}{
			"tokens": resp.Usage.TotalTokens,
		})

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			a.finishTurn(ctx, input, resp.Content)
			return resp.Content, nil
		}

		a.bus.PublishWithData(EventToolCalls, a.session.ID, map[string]interface{}{
			"count": len(resp.ToolCalls),
		})
		results, err := a.tools.HandleToolCalls(ctx, a.session.ID, resp.ToolCalls)
		if err != nil {
			return "", fmt.Errorf("tool execution failed: %w", err)
		}
		for _, res := range results {
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    res.Digest,
				ToolCallID: res.ToolCallID,
			})
		}
	}
}

// buildPrompt assembles system context, recalled memories, the recent
// history window and the new input.
func (a *Assistant) buildPrompt(input string, traces []memory.Trace) []provider.Message {
	msgs := []provider.Message{{Role: "system", Content: a.persona.Prompt()}}

	if a.summary != "" {
		msgs = append(msgs, provider.Message{
			Role:    "system",
			Content: "Summary of the conversation so far: " + a.summary,
		})
	}

	if len(traces) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant memories:\n")
		for _, tr := range traces {
			sb.WriteString("- " + tr.Content + "\n")
		}
		msgs = append(msgs, provider.Message{Role: "system", Content: sb.String()})
	}

	msgs = append(msgs, a.history...)
	return append(msgs, provider.Message{Role: "user", Content: input})
}

// finishTurn persists the exchange, folds it into the history window
// and hands it to the memory engine in the background.
func (a *Assistant) finishTurn(ctx context.Context, input, reply string) {
	now := time.Now()
	if err := a.store.AppendMessage(&store.Message{
		SessionID: a.session.ID, Role: "user", Content: input, CreatedAt: now,
	}); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to persist user message")
	}
	if err := a.store.AppendMessage(&store.Message{
		SessionID: a.session.ID, Role: "assistant", Content: reply, CreatedAt: now,
	}); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to persist assistant message")
	}

	a.session.LastActive = now
	if err := a.store.UpdateSession(a.session); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to update session activity")
	}

	a.history = append(a.history,
		provider.Message{Role: "user", Content: input},
		provider.Message{Role: "assistant", Content: reply},
	)
	a.maybeSummarize(ctx)
	a.trimHistory()

	a.rememberAsync(input, "user")
	a.rememberAsync(reply, "assistant")

	a.bus.PublishSimple(EventChatReply, a.session.ID)
}

// maybeSummarize folds a full history window into one archived summary
// once the threshold is reached. The summary replaces the trimmed
// prefix in subsequent prompts.
func (a *Assistant) maybeSummarize(ctx context.Context) {
	if len(a.history) < a.cfg.SummaryThreshold {
		return
	}

	var sb strings.Builder
	for _, m := range a.history {
		sb.WriteString(m.Role + ": " + m.Content + "\n")
	}
	req := []provider.Message{
		{Role: "system", Content: "Summarize the following conversation, keeping the important facts and context for future reference. Be concise."},
		{Role: "user", Content: sb.String()},
	}

	resp, err := a.roles.Summarizer.Chat(ctx, req)
	if err != nil {
		a.obs.Log().Warn().Err(err).Msg("context summarization failed")
		return
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return
	}
	a.summary = text

	summary := &store.Summary{
		ID:        uuid.NewString(),
		SessionID: a.session.ID,
		Content:   text,
		CreatedAt: time.Now(),
	}
	var embedding []float32
	if vec, err := a.roles.Embedder.Embed(ctx, text); err == nil {
		embedding = vec
	} else {
		a.obs.Log().Warn().Err(err).Msg("failed to embed context summary")
	}
	if err := a.store.AddSummary(summary, embedding); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to archive context summary")
	}

	if len(a.history) > keepAfterSummary {
		a.history = append([]provider.Message(nil), a.history[len(a.history)-keepAfterSummary:]...)
	}
	a.bus.PublishSimple(EventContextSummarized, a.session.ID)
}

func (a *Assistant) trimHistory() {
	max := a.cfg.HistoryTurns * 2
	if len(a.history) > max {
		a.history = append([]provider.Message(nil), a.history[len(a.history)-max:]...)
	}
}

// rememberAsync stores one side of an exchange as an episodic memory
// without blocking the reply.
func (a *Assistant) rememberAsync(content, role string) {
	source := map[string]string{
		"session_id": a.session.ID,
		"role":       role,
	}
	a.remembers.Add(1)
	go func() {
		defer a.remembers.Done()
		ctx, cancel := context.WithTimeout(context.Background(), rememberTimeout)
		defer cancel()
		if _, err := a.engine.Remember(ctx, content, memory.TypeEpisodic, source); err != nil {
			a.obs.Log().Warn().Err(err).Msg("failed to remember exchange")
		}
	}()
}
