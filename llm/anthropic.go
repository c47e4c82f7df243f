package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type anthropicProvider struct {
	model  string
	client anthropic.Client
}

func newAnthropic(cfg Config) Provider {
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_0)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicProvider{
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (p *anthropicProvider) Provider() string { return "anthropic" }
func (p *anthropicProvider) Model() string    { return p.model }

func (p *anthropicProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	user := req.Prompt
	if req.Context != "" {
		user = req.Context + "\n\n" + req.Prompt
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", ErrGenerate, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		sb.WriteString(block.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: anthropic: empty response", ErrGenerate)
	}
	return sb.String(), nil
}
