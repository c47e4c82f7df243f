package akasha

import (
	"strings"
	"testing"

	"github.com/akasha-ai/akasha/extract"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

func validTestConfig() Config {
	return Config{
		Database: DatabaseConfig{Type: "sqlite", Path: "graph.db"},
		Providers: ProvidersConfig{
			Embedding: llm.Config{Type: "openai", APIKey: "sk-x", Model: "text-embedding-3-small"},
			LLM:       llm.Config{Type: "openai", APIKey: "sk-x", Model: "gpt-4o-mini"},
		},
	}
}

func hasFieldError(res ValidationResult, field string) bool {
	for _, e := range res.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateConfigAccepts(t *testing.T) {
	res := ValidateConfig(validTestConfig())
	if !res.Valid {
		t.Fatalf("valid config rejected: %+v", res.Errors)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database type", func(c *Config) { c.Database.Type = "" }, "database.type"},
		{"unknown database type", func(c *Config) { c.Database.Type = "mongodb" }, "database.type"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"neo4j without uri", func(c *Config) {
			c.Database = DatabaseConfig{Type: "neo4j", Username: "neo4j"}
		}, "database.uri"},
		{"neo4j without username", func(c *Config) {
			c.Database = DatabaseConfig{Type: "neo4j", URI: "bolt://localhost:7687"}
		}, "database.username"},
		{"missing llm type", func(c *Config) { c.Providers.LLM.Type = "" }, "providers.llm.type"},
		{"unknown embedding type", func(c *Config) { c.Providers.Embedding.Type = "oracle" }, "providers.embedding.type"},
		{"openai without key", func(c *Config) { c.Providers.LLM.APIKey = "" }, "providers.llm.apiKey"},
		{"negative dimensions", func(c *Config) { c.Providers.Embedding.Dimensions = -1 }, "providers.embedding.dimensions"},
		{"temperature out of range", func(c *Config) { c.Providers.LLM.Temperature = 2.5 }, "providers.llm.temperature"},
		{"scope without id", func(c *Config) {
			c.Scope = &graphdb.Scope{Type: "project", Name: "x"}
		}, "scope.id"},
		{"scope without type", func(c *Config) {
			c.Scope = &graphdb.Scope{ID: "s", Name: "x"}
		}, "scope.type"},
		{"scope without name", func(c *Config) {
			c.Scope = &graphdb.Scope{ID: "s", Type: "project"}
		}, "scope.name"},
		{"malformed extraction prompt", func(c *Config) {
			c.ExtractionPrompt = &extract.Template{
				EntityTypes: []extract.EntityType{{Label: ""}},
			}
		}, "extractionPrompt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			res := ValidateConfig(cfg)
			if res.Valid {
				t.Fatal("invalid config accepted")
			}
			if !hasFieldError(res, tc.field) {
				t.Errorf("no error on %s: %+v", tc.field, res.Errors)
			}
		})
	}
}

func TestValidateConfigWarnings(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database = DatabaseConfig{Type: "memory"}
	cfg.Providers.LLM.Model = ""
	res := ValidateConfig(cfg)
	if !res.Valid {
		t.Fatalf("config rejected: %+v", res.Errors)
	}
	var persistence, model bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "persist") {
			persistence = true
		}
		if strings.Contains(w, "model") {
			model = true
		}
	}
	if !persistence || !model {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestValidateConfigNeo4jSchemeWarning(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database = DatabaseConfig{Type: "neo4j", URI: "http://localhost:7474", Username: "neo4j"}
	res := ValidateConfig(cfg)
	if !res.Valid {
		t.Fatalf("config rejected: %+v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Error("no warning for http scheme")
	}
}
