package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/jarvis/internal/assistant"
	"github.com/felixgeelhaar/jarvis/internal/backup"
	"github.com/felixgeelhaar/jarvis/internal/config"
	"github.com/felixgeelhaar/jarvis/internal/credential"
	"github.com/felixgeelhaar/jarvis/internal/guard"
	"github.com/felixgeelhaar/jarvis/internal/importer"
	"github.com/felixgeelhaar/jarvis/internal/memory"
	chromemstore "github.com/felixgeelhaar/jarvis/internal/memory/store/chromem"
	"github.com/felixgeelhaar/jarvis/internal/observe"
	"github.com/felixgeelhaar/jarvis/internal/persona"
	"github.com/felixgeelhaar/jarvis/internal/provider"
	"github.com/felixgeelhaar/jarvis/internal/ratelimit"
	"github.com/felixgeelhaar/jarvis/internal/store"
	"github.com/felixgeelhaar/jarvis/internal/toolexec"
	"github.com/felixgeelhaar/jarvis/internal/websearch"
)

// configDir is where the config file lives. Data may live elsewhere
// when the config points data_dir somewhere else.
func configDir() string {
	if dir := os.Getenv("JARVIS_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".jarvis")
}

func getStore() store.Storage {
	dir := configDir()
	storeLayer, err := store.NewSQLiteStore(
		filepath.Join(dir, "metadata.db"),
		filepath.Join(dir, "artifacts"),
	)
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	return storeLayer
}

// app holds everything one jarvis process wires together: config,
// relational store, memory engine, providers and the shared event bus.
type app struct {
	cfg    config.Config
	obs    *observe.Observer
	store  store.Storage
	creds  *credential.Manager
	roles  provider.Roles
	engine *memory.Engine
	guard  *guard.Guard
	tools  *toolexec.Executor
	imp    *importer.Importer
	search *websearch.Client
	backup *backup.Manager
	bus    *assistant.EventBus
}

func newApp(out io.Writer, jsonLogs bool) (*app, error) {
	cfg, err := config.Load(config.Path(configDir()))
	if err != nil {
		return nil, err
	}
	if providerType != "" {
		cfg.Model.Provider = providerType
	}
	if modelName != "" {
		cfg.Model.Chat = modelName
	}

	var obs *observe.Observer
	if jsonLogs {
		obs = observe.NewJSON(out, verbose || cfg.Verbose)
	} else {
		obs = observe.New(out, verbose || cfg.Verbose)
	}

	dataDir := cfg.DataDir
	if env := os.Getenv("JARVIS_HOME"); env != "" {
		dataDir = env
	}
	if dataDir == "" {
		dataDir = configDir()
	}

	st, err := store.NewSQLiteStore(
		filepath.Join(dataDir, "metadata.db"),
		filepath.Join(dataDir, "artifacts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	creds, err := credential.NewManager()
	if err != nil {
		st.Close()
		return nil, err
	}

	roles, err := buildRoles(cfg, st, creds)
	if err != nil {
		st.Close()
		return nil, err
	}

	memStore, err := chromemstore.New(filepath.Join(dataDir, "memory"), cfg.Memory.CollectionBase, roles.Embedder.Embed)
	if err != nil {
		st.Close()
		return nil, err
	}

	graph, err := memory.LoadGraph(filepath.Join(dataDir, "memory_graph.json"))
	if err != nil {
		st.Close()
		return nil, err
	}

	engine, err := memory.NewEngine(memStore, roles, graph, obs, memory.Params{
		ConsolidationThreshold: cfg.Memory.ConsolidationThreshold,
		MergeThreshold:         cfg.Memory.MergeThreshold,
		RecallLimit:            cfg.Memory.RecallLimit,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	g := guard.New(policyFromConfig(cfg))

	a := &app{
		cfg:    cfg,
		obs:    obs,
		store:  st,
		creds:  creds,
		roles:  roles,
		engine: engine,
		guard:  g,
		tools:  toolexec.New(st, g),
		imp:    importer.New(importer.NewNormalizer(cfg.SelfID), assistant.NewMemorySink(engine), obs),
		backup: backup.New(dataDir, st, engine, obs),
		bus:    assistant.NewEventBus(),
	}

	if key := secret(st, creds, "exa.api_key"); key != "" {
		a.search = websearch.New(key)
	}

	return a, nil
}

func (a *app) Close() {
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to close store")
	}
	a.obs.Close()
}

// newAssistant creates a fresh session row and an assistant bound to it.
// All assistants from one app share the engine, store and event bus.
func (a *app) newAssistant(username string, p *persona.Persona) (*assistant.Assistant, error) {
	now := time.Now()
	sess := &store.Session{
		ID:         uuid.NewString(),
		Username:   username,
		CreatedAt:  now,
		LastActive: now,
		Status:     "active",
	}
	if err := a.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return assistant.New(assistant.Deps{
		Session:  sess,
		Persona:  p,
		Roles:    a.roles,
		Engine:   a.engine,
		Importer: a.imp,
		Tools:    a.tools,
		Search:   a.search,
		Backup:   a.backup,
		Guard:    a.guard,
		Store:    a.store,
		Bus:      a.bus,
		Observer: a.obs,
		Config: assistant.Config{
			SummaryThreshold: a.cfg.SummaryThreshold,
			RecallLimit:      a.cfg.Memory.RecallLimit,
		},
	})
}

// buildRoles wires the provider split: the configured backend carries
// conversation and summaries, embeddings stay on a local Ollama model
// unless the stub is running.
func buildRoles(cfg config.Config, st store.Storage, creds *credential.Manager) (provider.Roles, error) {
	if cfg.Model.OllamaHost != "" {
		os.Setenv("OLLAMA_HOST", cfg.Model.OllamaHost)
	}

	var limiter *ratelimit.Limiter
	if cfg.Model.Provider == "openrouter" {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.TokensPerMinute)
	}

	chat, err := buildChatProvider(cfg, st, creds, cfg.Model.Chat, limiter)
	if err != nil {
		return provider.Roles{}, err
	}

	var summarizer provider.Provider
	if cfg.Model.Summary != "" && cfg.Model.Summary != cfg.Model.Chat {
		summarizer, err = buildChatProvider(cfg, st, creds, cfg.Model.Summary, limiter)
		if err != nil {
			return provider.Roles{}, err
		}
	}

	var embedder provider.Provider
	if cfg.Model.Provider != "stub" {
		embedder, err = provider.NewOllamaProvider(cfg.Model.Embedding)
		if err != nil {
			return provider.Roles{}, err
		}
	}

	return provider.NewRoles(chat, summarizer, embedder)
}

func buildChatProvider(cfg config.Config, st store.Storage, creds *credential.Manager, model string, limiter *ratelimit.Limiter) (provider.Provider, error) {
	switch cfg.Model.Provider {
	case "ollama":
		return provider.NewOllamaProvider(model)
	case "openrouter":
		keys, err := secretRing(st, creds, "openrouter.api_keys")
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("no OpenRouter API keys configured; run: jarvis config set openrouter.api_keys <key>[,<key>]")
		}
		p, err := provider.NewOpenRouterProvider(keys, model, limiter)
		if err != nil {
			return nil, err
		}
		if u := cfg.Model.OpenRouterBaseURL; u != "" && u != provider.DefaultOpenRouterBaseURL {
			p.SetBaseURL(u)
		}
		return p, nil
	case "gemini":
		key := secret(st, creds, "gemini.api_key")
		if key == "" {
			return nil, fmt.Errorf("no Gemini API key configured; run: jarvis config set gemini.api_key <key>")
		}
		return provider.NewGeminiProvider(key, model)
	case "stub":
		return provider.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Model.Provider)
	}
}

func policyFromConfig(cfg config.Config) guard.Policy {
	p := guard.DefaultPolicy
	sec := cfg.Security
	if len(sec.AllowedCommands) > 0 {
		p.AllowedCommands = sec.AllowedCommands
	}
	if len(sec.AllowedHosts) > 0 {
		p.AllowedHosts = sec.AllowedHosts
	}
	if len(sec.ImportFileGlobs) > 0 {
		p.ImportFileGlobs = sec.ImportFileGlobs
	}
	p.CommandsEnabled = sec.CommandExecutionEnabled
	if sec.CommandTimeoutSeconds > 0 {
		p.CommandTimeout = time.Duration(sec.CommandTimeoutSeconds) * time.Second
	}
	if cfg.MaxTokenLimit > 0 {
		p.MaxPromptTokens = cfg.MaxTokenLimit
	}
	return p
}

// secret reads a config value, decrypting it when the credential
// manager sealed it. Missing or undecryptable values come back empty.
func secret(st store.Storage, creds *credential.Manager, key string) string {
	stored, err := st.GetConfig(key)
	if err != nil || stored == "" {
		return ""
	}
	plain, err := creds.Decrypt(stored)
	if err != nil {
		return ""
	}
	return plain
}

func secretRing(st store.Storage, creds *credential.Manager, key string) ([]string, error) {
	stored, err := st.GetConfig(key)
	if err != nil {
		return nil, err
	}
	return creds.DecryptRing(stored)
}
