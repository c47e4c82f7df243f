package akasha

import (
	"fmt"
	"strings"
)

// FieldError pins a validation failure to a config field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of ValidateConfig. Errors make the config
// unusable; warnings do not.
type ValidationResult struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []string     `json:"warnings"`
}

var supportedDatabases = []string{"sqlite", "neo4j", "memory"}

// providerNeedsKey lists generation/embedding provider types that require an
// API key. Construction shares this table with validation.
var providerNeedsKey = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"deepseek":  true,
	"custom":    false,
	"mock":      false,
}

// ValidateConfig statically checks a config before construction. It never
// touches the network.
func ValidateConfig(cfg Config) ValidationResult {
	res := ValidationResult{}
	fail := func(field, msg string) {
		res.Errors = append(res.Errors, FieldError{Field: field, Message: msg})
	}
	warn := func(msg string) {
		res.Warnings = append(res.Warnings, msg)
	}

	switch cfg.Database.Type {
	case "":
		fail("database.type", "database type is required, one of: "+strings.Join(supportedDatabases, ", "))
	case "sqlite":
		if cfg.Database.Path == "" {
			fail("database.path", "sqlite requires a database file path")
		}
	case "neo4j":
		if cfg.Database.URI == "" {
			fail("database.uri", "neo4j requires a connection URI")
		} else if !strings.HasPrefix(cfg.Database.URI, "bolt://") &&
			!strings.HasPrefix(cfg.Database.URI, "neo4j://") &&
			!strings.HasPrefix(cfg.Database.URI, "neo4j+s://") {
			warn(fmt.Sprintf("database.uri %q does not use a bolt:// or neo4j+s:// scheme", cfg.Database.URI))
		}
		if cfg.Database.Username == "" {
			fail("database.username", "neo4j requires a username")
		}
	case "memory":
		warn("memory database does not persist across restarts")
	default:
		fail("database.type", fmt.Sprintf("unknown database type %q, supported: %s",
			cfg.Database.Type, strings.Join(supportedDatabases, ", ")))
	}

	validateProvider(&res, "providers.embedding", cfg.Providers.Embedding.Type,
		cfg.Providers.Embedding.APIKey, cfg.Providers.Embedding.Model)
	validateProvider(&res, "providers.llm", cfg.Providers.LLM.Type,
		cfg.Providers.LLM.APIKey, cfg.Providers.LLM.Model)

	if cfg.Providers.Embedding.Dimensions < 0 {
		fail("providers.embedding.dimensions", "dimensions cannot be negative")
	}
	if t := cfg.Providers.LLM.Temperature; t < 0 || t > 2 {
		fail("providers.llm.temperature", "temperature must be between 0 and 2")
	}

	if cfg.Scope != nil {
		if cfg.Scope.ID == "" {
			fail("scope.id", "scope id is required when a scope is configured")
		}
		if cfg.Scope.Type == "" {
			fail("scope.type", "scope type is required when a scope is configured")
		}
		if cfg.Scope.Name == "" {
			fail("scope.name", "scope name is required when a scope is configured")
		}
	}

	if cfg.ExtractionPrompt != nil {
		if err := cfg.ExtractionPrompt.Validate(); err != nil {
			fail("extractionPrompt", err.Error())
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func validateProvider(res *ValidationResult, field, typ, apiKey, model string) {
	if typ == "" {
		res.Errors = append(res.Errors, FieldError{
			Field: field + ".type", Message: "provider type is required",
		})
		return
	}
	needsKey, known := providerNeedsKey[typ]
	if !known {
		res.Errors = append(res.Errors, FieldError{
			Field: field + ".type", Message: fmt.Sprintf("unknown provider type %q", typ),
		})
		return
	}
	if needsKey && apiKey == "" {
		res.Errors = append(res.Errors, FieldError{
			Field: field + ".apiKey", Message: typ + " requires an API key",
		})
	}
	if model == "" && typ != "mock" {
		res.Warnings = append(res.Warnings, field+".model not set, using the provider default")
	}
}
