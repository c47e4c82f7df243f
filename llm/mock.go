package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// MockProvider returns scripted responses for tests and offline runs. With no
// script it echoes a deterministic digest of the prompt.
type MockProvider struct {
	model string

	mu        sync.Mutex
	responses []string
	calls     []GenerateRequest
	err       error
}

// NewMockProvider builds a mock generation provider.
func NewMockProvider(model string) *MockProvider {
	if model == "" {
		model = "mock-model"
	}
	return &MockProvider{model: model}
}

func (m *MockProvider) Provider() string { return "mock" }
func (m *MockProvider) Model() string    { return m.model }

// Respond queues responses returned in order by subsequent Generate calls.
func (m *MockProvider) Respond(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Fail makes every Generate call return err until cleared with Fail(nil).
func (m *MockProvider) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of the requests seen so far.
func (m *MockProvider) Calls() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerate, m.err)
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}
	h := fnv.New64a()
	h.Write([]byte(req.Prompt))
	return fmt.Sprintf("mock response %x", h.Sum64()), nil
}

// MockEmbedder produces deterministic unit vectors derived from the input
// text, so identical texts embed identically and similarity ordering is
// stable across runs.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder builds a mock embedder. A zero dimension count defaults to 8.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (m *MockEmbedder) Provider() string { return "mock" }
func (m *MockEmbedder) Model() string    { return "mock-embedding" }
func (m *MockEmbedder) Dimensions() int  { return m.dimensions }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: empty input at index %d", ErrEmbedding, i)
		}
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *MockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
