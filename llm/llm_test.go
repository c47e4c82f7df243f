package llm

import (
	"context"
	"errors"
	"testing"
)

func TestNewProviderSelection(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    string
	}{
		{"openai", Config{Type: "openai", APIKey: "k"}, false, "openai"},
		{"deepseek", Config{Type: "deepseek", APIKey: "k"}, false, "deepseek"},
		{"anthropic", Config{Type: "anthropic", APIKey: "k"}, false, "anthropic"},
		{"custom with url", Config{Type: "custom", BaseURL: "http://localhost:8080"}, false, "custom"},
		{"custom without url", Config{Type: "custom"}, true, ""},
		{"mock", Config{Type: "mock"}, false, "mock"},
		{"empty", Config{}, true, ""},
		{"unknown", Config{Type: "cohere"}, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewProvider(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %+v", tc.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			if p.Provider() != tc.want {
				t.Errorf("provider = %q, want %q", p.Provider(), tc.want)
			}
		})
	}
}

func TestNewEmbedderSelection(t *testing.T) {
	if _, err := NewEmbedder(Config{Type: "anthropic"}); err == nil {
		t.Error("anthropic embedder should be rejected")
	}
	if _, err := NewEmbedder(Config{}); err == nil {
		t.Error("empty embedder type should be rejected")
	}
	e, err := NewEmbedder(Config{Type: "mock", Dimensions: 16})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if e.Dimensions() != 16 {
		t.Errorf("dimensions = %d, want 16", e.Dimensions())
	}
}

func TestDeepseekDefaults(t *testing.T) {
	p, err := NewProvider(Config{Type: "deepseek", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Model() != "deepseek-chat" {
		t.Errorf("model = %q, want deepseek-chat", p.Model())
	}
}

func TestMockProviderScripted(t *testing.T) {
	m := NewMockProvider("")
	m.Respond("first", "second")

	ctx := context.Background()
	got, err := m.Generate(ctx, GenerateRequest{Prompt: "a"})
	if err != nil || got != "first" {
		t.Fatalf("got %q, %v", got, err)
	}
	got, err = m.Generate(ctx, GenerateRequest{Prompt: "b"})
	if err != nil || got != "second" {
		t.Fatalf("got %q, %v", got, err)
	}

	// Script exhausted: falls back to a deterministic digest.
	one, _ := m.Generate(ctx, GenerateRequest{Prompt: "same"})
	two, _ := m.Generate(ctx, GenerateRequest{Prompt: "same"})
	if one != two {
		t.Errorf("digest responses differ: %q vs %q", one, two)
	}

	if len(m.Calls()) != 4 {
		t.Errorf("calls = %d, want 4", len(m.Calls()))
	}
}

func TestMockProviderFailure(t *testing.T) {
	m := NewMockProvider("")
	m.Fail(errors.New("boom"))
	if _, err := m.Generate(context.Background(), GenerateRequest{Prompt: "x"}); !errors.Is(err, ErrGenerate) {
		t.Fatalf("want ErrGenerate, got %v", err)
	}
	m.Fail(nil)
	if _, err := m.Generate(context.Background(), GenerateRequest{Prompt: "x"}); err != nil {
		t.Fatalf("unexpected error after clearing: %v", err)
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(32)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "alpha")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	a2, _ := e.Embed(ctx, "alpha")
	b, _ := e.Embed(ctx, "beta")

	if len(a1) != 32 {
		t.Fatalf("len = %d, want 32", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same text embedded differently at %d", i)
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}

	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("vector norm = %f, want ~1", norm)
	}
}

func TestMockEmbedderRejectsEmpty(t *testing.T) {
	e := NewMockEmbedder(8)
	if _, err := e.EmbedBatch(context.Background(), []string{"ok", ""}); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("want ErrEmbedding, got %v", err)
	}
}
