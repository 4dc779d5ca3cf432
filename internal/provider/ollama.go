package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider talks to a local Ollama daemon. The same type
// serves both chat and embedding roles; wire one instance per model.
func NewOllamaProvider(model string) (*OllamaProvider, error) {
	if model == "" {
		model = "gemma2:27b"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, _ := url.Parse(baseURL)
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaProvider{
		client: client,
		model:  model,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func ollamaTools() []api.Tool {
	cmdProps := api.NewToolPropertiesMap()
	cmdProps.Set("cmd", api.ToolProperty{
		Type:        api.PropertyType{"string"},
		Description: "The command to run",
	})
	cmdProps.Set("dir", api.ToolProperty{
		Type:        api.PropertyType{"string"},
		Description: "The directory to run the command in",
	})

	urlProps := api.NewToolPropertiesMap()
	urlProps.Set("url", api.ToolProperty{
		Type:        api.PropertyType{"string"},
		Description: "The http(s) URL to fetch",
	})

	return []api.Tool{
		{
			Type: "function",
			Function: api.ToolFunction{
				Name:        ToolRunCommand,
				Description: "Execute an allowlisted shell command on the host",
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: cmdProps,
					Required:   []string{"cmd"},
				},
			},
		},
		{
			Type: "function",
			Function: api.ToolFunction{
				Name:        ToolFetchURL,
				Description: "Fetch a URL from the allowlisted hosts and return its text",
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: urlProps,
					Required:   []string{"url"},
				},
			},
		},
	}
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var apiMsgs []api.Message
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		Tools:    ollamaTools(),
	}

	var respContent string
	var totalTokens int
	var toolCalls []ToolCall

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			totalTokens = resp.EvalCount + resp.PromptEvalCount
		}

		for _, tc := range resp.Message.ToolCalls {
			argsBytes, _ := json.Marshal(tc.Function.Arguments)
			toolCalls = append(toolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%d_%s", len(toolCalls), tc.Function.Name),
				Name: tc.Function.Name,
				Args: string(argsBytes),
			})
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &Response{
		Content:   respContent,
		ToolCalls: toolCalls,
		Usage:     usageFromTokens(totalTokens),
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.model,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
