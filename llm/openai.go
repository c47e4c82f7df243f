package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// defaultEmbeddingDimensions matches text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// openAIProvider serves OpenAI and any OpenAI-compatible endpoint (DeepSeek,
// local inference servers) selected via BaseURL.
type openAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

func newClient(cfg Config) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL + "/v1"
	}
	return openai.NewClientWithConfig(c)
}

func newOpenAI(cfg Config) Provider {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	name := cfg.Type
	if name == "" {
		name = "openai"
	}
	return &openAIProvider{name: name, model: model, client: newClient(cfg)}
}

func (p *openAIProvider) Provider() string { return p.name }
func (p *openAIProvider) Model() string    { return p.model }

func (p *openAIProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	user := req.Prompt
	if req.Context != "" {
		user = req.Context + "\n\n" + req.Prompt
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGenerate, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s: empty choice list", ErrGenerate, p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// openAIEmbedder implements Embedder against the embeddings endpoint.
type openAIEmbedder struct {
	name       string
	model      string
	dimensions int
	client     *openai.Client
}

func newOpenAIEmbedder(cfg Config) Embedder {
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = defaultEmbeddingDimensions
	}
	name := cfg.Type
	if name == "" {
		name = "openai"
	}
	return &openAIEmbedder{name: name, model: model, dimensions: dims, client: newClient(cfg)}
}

func (e *openAIEmbedder) Provider() string { return e.name }
func (e *openAIEmbedder) Model() string    { return e.model }
func (e *openAIEmbedder) Dimensions() int  { return e.dimensions }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: empty input at index %d", ErrEmbedding, i)
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbedding, e.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbedding, len(resp.Data), len(texts))
	}

	// The API reports an index per datum; order by it rather than trusting
	// response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: out-of-range index %d", ErrEmbedding, d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: vector has %d dimensions, want %d", ErrEmbedding, len(d.Embedding), e.dimensions)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
