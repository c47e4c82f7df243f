package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

// ErrExtraction wraps unusable LLM extraction output.
var ErrExtraction = errors.New("extract: extraction failed")

// extractionTemperature keeps the extraction call near-deterministic.
const extractionTemperature = 0.3

// Entity is one extracted node before persistence. Name lives inside
// Properties under "name".
type Entity struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// Name returns the entity's name property.
func (e Entity) Name() string {
	if n, ok := e.Properties["name"].(string); ok {
		return n
	}
	return ""
}

// Relationship is one extracted edge, endpoints referenced by entity name.
type Relationship struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties"`
}

// Result is a validated, deduplicated extraction.
type Result struct {
	Entities      []Entity
	Relationships []Relationship
}

// Extractor runs the extraction call against a generation provider.
type Extractor struct {
	provider llm.Provider
	template Template
	logger   *slog.Logger
}

// NewExtractor builds an extractor. A nil logger defaults to slog.Default.
func NewExtractor(provider llm.Provider, template Template, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{provider: provider, template: template, logger: logger}
}

// Template returns the effective template.
func (x *Extractor) Template() Template { return x.template }

// Extract runs one LLM call over text and returns the validated graph.
func (x *Extractor) Extract(ctx context.Context, text string) (*Result, error) {
	resp, err := x.provider.Generate(ctx, llm.GenerateRequest{
		SystemPrompt: x.template.SystemPrompt(),
		Prompt:       "Extract entities and relationships from the following text.\n\nTEXT:\n" + text,
		Temperature:  extractionTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	jsonStr, err := extractJSON(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var raw struct {
		Entities      []Entity       `json:"entities"`
		Relationships []Relationship `json:"relationships"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling response: %v", ErrExtraction, err)
	}

	return x.validate(raw.Entities, raw.Relationships)
}

// allowedLabels returns the ontology's label set, or nil when the template
// declares none (then any well-formed label passes).
func (x *Extractor) allowedLabels() map[string]bool {
	if len(x.template.EntityTypes) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(x.template.EntityTypes))
	for _, et := range x.template.EntityTypes {
		allowed[et.Label] = true
	}
	return allowed
}

func (x *Extractor) validate(entities []Entity, relationships []Relationship) (*Result, error) {
	allowed := x.allowedLabels()
	result := &Result{}
	seenEntity := make(map[string]bool)

	for _, e := range entities {
		name := strings.TrimSpace(e.Name())
		if name == "" {
			x.logger.Warn("dropping extracted entity without a name", "label", e.Label)
			continue
		}
		if !graphdb.ValidLabel(e.Label) && !allowed[e.Label] {
			x.logger.Warn("dropping extracted entity with invalid label", "label", e.Label, "name", name)
			continue
		}
		if reserved := reservedKeys(e.Properties); len(reserved) > 0 {
			x.logger.Warn("stripping reserved keys from extracted entity", "name", name, "keys", reserved)
			for _, k := range reserved {
				delete(e.Properties, k)
			}
		}
		key := e.Label + "\x00" + graphdb.NormalizeName(name)
		if seenEntity[key] {
			continue
		}
		seenEntity[key] = true
		if e.Properties == nil {
			e.Properties = make(map[string]any, 1)
		}
		e.Properties["name"] = name
		result.Entities = append(result.Entities, e)
	}

	seenRel := make(map[string]bool)
	for _, r := range relationships {
		from := strings.TrimSpace(r.From)
		to := strings.TrimSpace(r.To)
		if from == "" || to == "" {
			x.logger.Warn("dropping relationship with missing endpoint", "type", r.Type)
			continue
		}
		if !graphdb.ValidRelationshipType(r.Type) {
			x.logger.Warn("dropping relationship with invalid type", "type", r.Type)
			continue
		}
		if graphdb.NormalizeName(from) == graphdb.NormalizeName(to) {
			x.logger.Warn("dropping self-referential relationship", "type", r.Type, "name", from)
			continue
		}
		if reserved := reservedKeys(r.Properties); len(reserved) > 0 {
			for _, k := range reserved {
				delete(r.Properties, k)
			}
		}
		key := graphdb.NormalizeName(from) + "\x00" + graphdb.NormalizeName(to) + "\x00" + r.Type
		if seenRel[key] {
			continue
		}
		seenRel[key] = true
		r.From = from
		r.To = to
		result.Relationships = append(result.Relationships, r)
	}

	return result, nil
}

func reservedKeys(props map[string]any) []string {
	var keys []string
	for k := range props {
		if graphdb.IsReservedKey(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object inside a possibly-noisy LLM response:
// fenced blocks, prose before or after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
