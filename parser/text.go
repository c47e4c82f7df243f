package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// TextParser reads plain text and markdown files verbatim.
type TextParser struct{}

func (p *TextParser) Extensions() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: reading text file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("parser: %s is empty", filepath.Base(path))
	}
	return &Result{
		Format: "text",
		Sections: []Section{{
			Content: string(data),
		}},
	}, nil
}
