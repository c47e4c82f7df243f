package parser

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Registry maps file extensions to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &XLSXParser{}, &TextParser{}} {
		for _, ext := range p.Extensions() {
			r.parsers[ext] = p
		}
	}
	return r
}

// Register adds or replaces the parser for an extension (without the dot).
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// ForPath picks a parser by the path's extension.
func (r *Registry) ForPath(path string) (Parser, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("parser: unsupported file extension %q", ext)
	}
	return p, nil
}
