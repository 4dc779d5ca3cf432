package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/felixgeelhaar/jarvis/internal/ratelimit"
)

// DefaultOpenRouterBaseURL is the public OpenRouter endpoint.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

const (
	// Free-tier models queue behind paid traffic and can take minutes
	// to answer.
	openRouterTimeout = 15 * time.Minute

	openRouterAttempts   = 3
	openRouterRetryDelay = 3 * time.Second
)

// DefaultOpenRouterModel is used when no model is configured.
const DefaultOpenRouterModel = "qwen/qwen-2.5-72b-instruct:free"

// headerTransport adds the attribution headers OpenRouter expects from
// registered apps. go-openai sets Authorization itself, per client.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com")
	clone.Header.Set("X-Title", "J.A.R.V.I.S AI Assistant")
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// OpenRouterProvider talks to OpenRouter's OpenAI-compatible API. It
// holds one client per API key and rotates to the next key whenever an
// attempt fails, so a rate-limited free key does not stall the session.
type OpenRouterProvider struct {
	keys       []string
	clients    []*openai.Client
	model      string
	limiter    *ratelimit.Limiter
	retryDelay time.Duration

	mu     sync.Mutex
	active int
}

// NewOpenRouterProvider builds a provider over a ring of API keys.
// Blank keys are dropped; at least one real key is required. A nil
// limiter disables rate gating.
func NewOpenRouterProvider(apiKeys []string, model string, limiter *ratelimit.Limiter) (*OpenRouterProvider, error) {
	keys := make([]string, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("at least one API key is required")
	}

	if model == "" {
		model = DefaultOpenRouterModel
	}

	return &OpenRouterProvider{
		keys:       keys,
		clients:    newOpenRouterClients(keys, DefaultOpenRouterBaseURL),
		model:      model,
		limiter:    limiter,
		retryDelay: openRouterRetryDelay,
	}, nil
}

func newOpenRouterClients(keys []string, baseURL string) []*openai.Client {
	httpClient := &http.Client{
		Transport: &headerTransport{},
		Timeout:   openRouterTimeout,
	}

	clients := make([]*openai.Client, len(keys))
	for i, key := range keys {
		config := openai.DefaultConfig(key)
		config.BaseURL = baseURL
		config.HTTPClient = httpClient
		clients[i] = openai.NewClientWithConfig(config)
	}
	return clients
}

// SetBaseURL overrides the API endpoint (useful for tests).
func (p *OpenRouterProvider) SetBaseURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = newOpenRouterClients(p.keys, url)
	p.active = 0
}

func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

func (p *OpenRouterProvider) client() *openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[p.active]
}

// rotate advances to the next key in the ring after a failed attempt.
func (p *OpenRouterProvider) rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) > 1 {
		p.active = (p.active + 1) % len(p.clients)
	}
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := p.limiter.Wait(ctx, EstimateTokens(messages)); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: openRouterMessages(messages),
		Tools:    openRouterTools(),
	}

	delay := backoff.NewConstantBackOff(p.retryDelay)
	var lastErr error
	for attempt := 0; attempt < openRouterAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.client().CreateChatCompletion(ctx, req)
		if err == nil && len(resp.Choices) == 0 {
			err = errors.New("response contained no choices")
		}
		if err != nil {
			lastErr = err
			p.rotate()
			continue
		}

		return openRouterResponse(resp), nil
	}

	return nil, fmt.Errorf("openrouter completion failed after %d attempts: %w", openRouterAttempts, lastErr)
}

// Embed is not served by OpenRouter. Deployments pair this provider
// with a local embedder through Roles.
func (p *OpenRouterProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("openrouter does not serve embeddings; configure an embedder provider")
}

func openRouterMessages(messages []Message) []openai.ChatCompletionMessage {
	reqMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}

		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Args,
					},
				})
			}
		}

		if m.ToolCallID != "" {
			msg.ToolCallID = m.ToolCallID
		}

		reqMsgs[i] = msg
	}
	return reqMsgs
}

func openRouterTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolRunCommand,
				Description: "Execute an allowlisted shell command on the host",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"cmd": map[string]interface{}{
							"type":        "string",
							"description": "The command to run",
						},
						"dir": map[string]interface{}{
							"type":        "string",
							"description": "The directory to run the command in",
						},
					},
					"required": []string{"cmd"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolFetchURL,
				Description: "Fetch a URL from the allowlisted hosts and return its text",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"url": map[string]interface{}{
							"type":        "string",
							"description": "The http(s) URL to fetch",
						},
					},
					"required": []string{"url"},
				},
			},
		},
	}
}

func openRouterResponse(resp openai.ChatCompletionResponse) *Response {
	choice := resp.Choices[0]

	result := &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}

	return result
}
