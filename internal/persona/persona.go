// Package persona loads and validates the assistant's persona file.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona shapes how the assistant speaks and who it believes its owner
// is. SelfID must match the chat-import self identifier so replayed
// history attributes messages correctly.
type Persona struct {
	Name         string `json:"name" yaml:"name"`
	SelfID       string `json:"self_id" yaml:"self_id"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	Style        string `json:"style" yaml:"style"`
	Greeting     string `json:"greeting" yaml:"greeting"`
}

// ValidationResult represents the outcome of a persona linting pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Default returns the built-in persona used when no file is given.
func Default() *Persona {
	return &Persona{
		Name:   "jarvis",
		SelfID: "jarvis-owner",
		SystemPrompt: "You are jarvis, a personal assistant with long-term memory. " +
			"Relevant memories appear before each question; weave them in naturally " +
			"and answer in the language the user writes in.",
		Style:    "warm, direct, no filler",
		Greeting: "Ready when you are.",
	}
}

// Load reads a persona from a file (JSON or YAML).
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var p Persona
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON persona: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML persona: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported persona format: %s (use .json or .yaml)", ext)
	}

	return &p, nil
}

// Validate checks the persona for completeness and quality.
func (p *Persona) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if strings.TrimSpace(p.SystemPrompt) == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "System prompt is required")
	}

	if strings.TrimSpace(p.SelfID) == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "Self id is required for chat imports")
	}

	if p.Name == "" {
		res.Warnings = append(res.Warnings, "No name set; the assistant will go nameless")
	}

	if p.Style == "" {
		res.Warnings = append(res.Warnings, "No style specified. Replies will follow the model's default tone")
	}

	return res
}

// Prompt renders the full system prompt, folding the style in when one
// is set.
func (p *Persona) Prompt() string {
	if p.Style == "" {
		return p.SystemPrompt
	}
	return fmt.Sprintf("%s\nStyle: %s.", p.SystemPrompt, p.Style)
}
