// Package parser extracts plain text from source files so they can be
// ingested like any other text. Binary formats (PDF, XLSX) get native
// parsers; everything else is read as UTF-8.
package parser

import (
	"context"
	"strings"
)

// Section is one logical block of a parsed file.
type Section struct {
	Heading string
	Content string
	Page    int
}

// Result is what a parser produces from a file.
type Result struct {
	Sections []Section
	Format   string
}

// Text joins the sections into the single string handed to ingestion.
// Headings become leading lines so structure survives the flattening.
func (r *Result) Text() string {
	var sb strings.Builder
	for _, s := range r.Sections {
		if s.Heading != "" {
			sb.WriteString(s.Heading)
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(s.Content))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// Parser extracts text from one file format family.
type Parser interface {
	Parse(ctx context.Context, path string) (*Result, error)
	Extensions() []string
}
