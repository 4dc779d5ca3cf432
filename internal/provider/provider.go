package provider

import (
	"context"
	"errors"
)

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool results
}

// Response represents the output from the model.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "stub", "ollama").
	Name() string
}

// Tool names the assistant exposes to every chat model.
const (
	ToolRunCommand = "run_command"
	ToolFetchURL   = "fetch_url"
)

// Roles splits work across providers: conversation, summarization and
// embeddings can each go to a different backend. Chat replies may come
// from OpenRouter while embeddings stay on a local Ollama model.
type Roles struct {
	Chat       Provider
	Summarizer Provider
	Embedder   Provider
}

// NewRoles wires the role split, defaulting the summarizer to the chat
// provider and the embedder likewise when unset.
func NewRoles(chat, summarizer, embedder Provider) (Roles, error) {
	if chat == nil {
		return Roles{}, errors.New("chat provider is required")
	}
	if summarizer == nil {
		summarizer = chat
	}
	if embedder == nil {
		embedder = chat
	}
	return Roles{Chat: chat, Summarizer: summarizer, Embedder: embedder}, nil
}

// usageFromTokens builds a Usage from a single total count, for
// backends that do not report a prompt/completion split.
func usageFromTokens(total int) Usage {
	return Usage{
		TotalTokens:      total,
		PromptTokens:     0,
		CompletionTokens: total,
	}
}

// EstimateTokens is a rough token count used for rate limiting before
// a request is sent. Four characters per token is close enough.
func EstimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}
