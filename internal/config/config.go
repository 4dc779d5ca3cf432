package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the config file kept inside the data directory.
const FileName = "config.json"

// Config is the persisted assistant configuration. Zero values are
// filled from Default when loading, so older files stay readable.
type Config struct {
	SelfID           string          `json:"self_id"`
	DataDir          string          `json:"data_dir"`
	MaxTokenLimit    int             `json:"max_token_limit"`
	SummaryThreshold int             `json:"summary_threshold"`
	Verbose          bool            `json:"verbose"`
	Model            ModelConfig     `json:"model"`
	Memory           MemoryConfig    `json:"memory"`
	RateLimit        RateLimitConfig `json:"rate_limit"`
	Security         SecurityConfig  `json:"security"`
	Server           ServerConfig    `json:"server"`
}

// ModelConfig selects the models behind each provider role.
type ModelConfig struct {
	Provider          string `json:"provider"`
	Chat              string `json:"chat"`
	Summary           string `json:"summary"`
	Embedding         string `json:"embedding"`
	OllamaHost        string `json:"ollama_host"`
	OpenRouterBaseURL string `json:"openrouter_base_url"`
}

// MemoryConfig tunes the tiered memory engine.
type MemoryConfig struct {
	CollectionBase         string  `json:"collection_base"`
	ConsolidationThreshold float64 `json:"consolidation_threshold"`
	MergeThreshold         float64 `json:"merge_threshold"`
	RecallLimit            int     `json:"recall_limit"`
	ImportBatchSize        int     `json:"import_batch_size"`
}

// RateLimitConfig bounds remote provider usage per minute.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
}

// SecurityConfig drives the guard allowlists.
type SecurityConfig struct {
	AllowedCommands         []string `json:"allowed_commands"`
	AllowedHosts            []string `json:"allowed_hosts"`
	ImportFileGlobs         []string `json:"import_file_globs"`
	CommandExecutionEnabled bool     `json:"command_execution_enabled"`
	CommandTimeoutSeconds   int      `json:"command_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr                  string `json:"addr"`
	SessionTimeoutSeconds int    `json:"session_timeout"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SelfID:           "jarvis-owner",
		DataDir:          filepath.Join(home, ".jarvis"),
		MaxTokenLimit:    4000,
		SummaryThreshold: 10,
		Verbose:          false,
		Model: ModelConfig{
			Provider:          "ollama",
			Chat:              "gemma2:27b",
			Summary:           "",
			Embedding:         "nomic-embed-text",
			OllamaHost:        "http://localhost:11434",
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		},
		Memory: MemoryConfig{
			CollectionBase:         "jarvis",
			ConsolidationThreshold: 0.5,
			MergeThreshold:         0.95,
			RecallLimit:            5,
			ImportBatchSize:        50,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 20,
			TokensPerMinute:   4000,
		},
		Security: SecurityConfig{
			AllowedCommands: []string{
				"ip", "uname", "df", "ps", "date", "uptime", "free", "whoami", "ls", "curl",
			},
			AllowedHosts: []string{
				"wttr.in", "api.coingecko.com", "whyta.cn", "api.exa.ai",
			},
			ImportFileGlobs:         []string{"**/*.json"},
			CommandExecutionEnabled: true,
			CommandTimeoutSeconds:   10,
		},
		Server: ServerConfig{
			Addr:                  ":8080",
			SessionTimeoutSeconds: 3 * 3600,
		},
	}
}

// Path returns the config file location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads the config file at path, layering it over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg atomically (write-then-rename) so a crash never
// leaves a truncated config behind.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
