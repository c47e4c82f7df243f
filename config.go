package akasha

import (
	"github.com/akasha-ai/akasha/extract"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

// DatabaseConfig selects and parameterizes a storage backend.
type DatabaseConfig struct {
	// Type is one of "sqlite", "neo4j", "memory".
	Type string `json:"type" yaml:"type"`

	// Path is the database file, for sqlite.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// URI, Username, Password, Database configure neo4j.
	URI      string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// ProvidersConfig holds the embedding and generation provider selections.
type ProvidersConfig struct {
	Embedding llm.Config `json:"embedding" yaml:"embedding"`
	LLM       llm.Config `json:"llm" yaml:"llm"`
}

// Config is the full construction surface of an engine instance.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`

	// Scope, when present, tags every write and filters every read.
	Scope *graphdb.Scope `json:"scope,omitempty" yaml:"scope,omitempty"`

	// ExtractionPrompt overrides fields of the default extraction template.
	ExtractionPrompt *extract.Template `json:"extractionPrompt,omitempty" yaml:"extractionPrompt,omitempty"`
}

// DefaultConfig is a starting point: embedded sqlite storage and OpenAI
// providers. Callers fill in credentials and overrides.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Type: "sqlite", Path: "akasha.db"},
		Providers: ProvidersConfig{
			Embedding: llm.Config{Type: "openai"},
			LLM:       llm.Config{Type: "openai"},
		},
	}
}

// ScopeID returns the configured scope id, or "" for unscoped instances.
func (c Config) ScopeID() string {
	if c.Scope == nil {
		return ""
	}
	return c.Scope.ID
}
