package provider

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

const stubEmbeddingDim = 64

// StubProvider serves scripted replies for tests and the offline demo.
// Responses are consumed in order; once drained every call gets the
// same closing line.
type StubProvider struct {
	mu        sync.Mutex
	Responses []Response
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		Responses: []Response{
			{
				Content: "I'm online. Ask me anything, or tell me something worth remembering.",
				Usage:   Usage{PromptTokens: 80, CompletionTokens: 15, TotalTokens: 95},
			},
			{
				Content: "Noted. I'll keep that in mind for next time.",
				Usage:   Usage{PromptTokens: 120, CompletionTokens: 12, TotalTokens: 132},
			},
			{
				Content: "From what I remember, that matches what you told me earlier.",
				Usage:   Usage{PromptTokens: 160, CompletionTokens: 14, TotalTokens: 174},
			},
		},
	}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	// Typing latency
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Responses) == 0 {
		return &Response{Content: "Understood.", Usage: Usage{}}, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

// Embed returns a deterministic unit vector derived from the text
// hash, so memory recall behaves consistently without a model.
func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, stubEmbeddingDim)
	var norm float32
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed)) / float32(math.MaxInt64)
		embedding[i] = v
		norm += v * v
	}

	if norm > 0 {
		scale := float32(math.Sqrt(float64(norm)))
		for i := range embedding {
			embedding[i] /= scale
		}
	}

	return embedding, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
