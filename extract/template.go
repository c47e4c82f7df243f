// Package extract turns free text into graph entities and relationships via a
// single LLM call driven by an ontology-aware prompt template.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityType describes one label in the extraction ontology.
type EntityType struct {
	Label              string   `json:"label" yaml:"label"`
	Description        string   `json:"description" yaml:"description"`
	Examples           []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	RequiredProperties []string `json:"requiredProperties,omitempty" yaml:"requiredProperties,omitempty"`
}

// RelationshipType describes one edge type, constrained to endpoint labels.
type RelationshipType struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	From        []string `json:"from" yaml:"from"`
	To          []string `json:"to" yaml:"to"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Example is a few-shot pair of input text and the JSON the model should emit.
type Example struct {
	Text   string `json:"text" yaml:"text"`
	Output string `json:"output" yaml:"output"`
}

// Template is the structured source the pipeline renders into the system
// prompt of the extraction call. User overrides replace fields wholesale, so
// a caller supplying entityTypes fully controls the ontology.
type Template struct {
	Role              string             `json:"role,omitempty" yaml:"role,omitempty"`
	Task              string             `json:"task,omitempty" yaml:"task,omitempty"`
	EntityTypes       []EntityType       `json:"entityTypes,omitempty" yaml:"entityTypes,omitempty"`
	RelationshipTypes []RelationshipType `json:"relationshipTypes,omitempty" yaml:"relationshipTypes,omitempty"`
	OutputFormat      string             `json:"outputFormat,omitempty" yaml:"outputFormat,omitempty"`
	Rules             []string           `json:"rules,omitempty" yaml:"rules,omitempty"`
	Examples          []Example          `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// DefaultTemplate returns the built-in general-purpose ontology.
func DefaultTemplate() Template {
	return Template{
		Role: "You are a knowledge graph extraction engine. You read text and produce a precise, minimal graph of entities and the relationships between them.",
		Task: "Extract every distinct entity and every relationship between extracted entities from the text. Only include what the text clearly supports.",
		EntityTypes: []EntityType{
			{Label: "Person", Description: "A named individual.", Examples: []string{"Ada Lovelace", "the CEO Jane Park"}},
			{Label: "Organization", Description: "A company, institution, team, or other formal group.", Examples: []string{"Acme Corp", "the WHO"}},
			{Label: "Location", Description: "A geographic place: city, country, region, address, landmark.", Examples: []string{"Berlin", "the Pacific coast"}},
			{Label: "Product", Description: "A product, service, model, or named artifact.", Examples: []string{"iPhone 15", "the Falcon 9 rocket"}},
			{Label: "Event", Description: "A named occurrence in time.", Examples: []string{"the 2024 launch", "World War II"}},
			{Label: "Concept", Description: "An abstract idea, technology, methodology, or field.", Examples: []string{"machine learning", "supply chain resilience"}},
		},
		RelationshipTypes: []RelationshipType{
			{Type: "WORKS_AT", Description: "A person is employed by or affiliated with an organization.", From: []string{"Person"}, To: []string{"Organization"}},
			{Type: "LOCATED_IN", Description: "Something is physically situated within a location.", From: []string{"Person", "Organization", "Event"}, To: []string{"Location"}},
			{Type: "PRODUCES", Description: "An organization creates or offers a product.", From: []string{"Organization"}, To: []string{"Product"}},
			{Type: "PARTICIPATES_IN", Description: "A person or organization takes part in an event.", From: []string{"Person", "Organization"}, To: []string{"Event"}},
			{Type: "RELATED_TO", Description: "A meaningful association not covered by a more specific type.", From: []string{}, To: []string{}},
		},
		OutputFormat: `Respond with a single JSON object and nothing else:
{
  "entities": [{"label": "<EntityType>", "properties": {"name": "<canonical name>", ...}}],
  "relationships": [{"type": "<RELATION_TYPE>", "from": "<entity name>", "to": "<entity name>", "properties": {...}}]
}`,
		Rules: []string{
			"Every entity must have a non-empty name property.",
			"Relationship from and to must refer to names of entities in the entities array.",
			"Use UPPER_SNAKE_CASE for relationship types and PascalCase for entity labels.",
			"Do not invent facts that are not in the text.",
			"Do not emit duplicate entities or duplicate relationships.",
		},
		Examples: []Example{
			{
				Text:   "Marie Curie worked at the University of Paris.",
				Output: `{"entities": [{"label": "Person", "properties": {"name": "Marie Curie"}}, {"label": "Organization", "properties": {"name": "University of Paris"}}], "relationships": [{"type": "WORKS_AT", "from": "Marie Curie", "to": "University of Paris", "properties": {}}]}`,
			},
		},
	}
}

// Merge overlays an override on a base. Each top-level field is replaced when
// the override provides it; array fields replace, never concatenate.
func Merge(base, override Template) Template {
	out := base
	if override.Role != "" {
		out.Role = override.Role
	}
	if override.Task != "" {
		out.Task = override.Task
	}
	if override.EntityTypes != nil {
		out.EntityTypes = override.EntityTypes
	}
	if override.RelationshipTypes != nil {
		out.RelationshipTypes = override.RelationshipTypes
	}
	if override.OutputFormat != "" {
		out.OutputFormat = override.OutputFormat
	}
	if override.Rules != nil {
		out.Rules = override.Rules
	}
	if override.Examples != nil {
		out.Examples = override.Examples
	}
	return out
}

// Validate shape-checks a template override.
func (t Template) Validate() error {
	for i, et := range t.EntityTypes {
		if strings.TrimSpace(et.Label) == "" {
			return fmt.Errorf("extract: entityTypes[%d]: label is required", i)
		}
	}
	for i, rt := range t.RelationshipTypes {
		if strings.TrimSpace(rt.Type) == "" {
			return fmt.Errorf("extract: relationshipTypes[%d]: type is required", i)
		}
	}
	return nil
}

// SystemPrompt renders the template into the extraction system prompt.
func (t Template) SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(t.Role)
	sb.WriteString("\n\n")
	sb.WriteString(t.Task)
	sb.WriteString("\n")

	if len(t.EntityTypes) > 0 {
		sb.WriteString("\nENTITY TYPES:\n")
		for _, et := range t.EntityTypes {
			sb.WriteString(fmt.Sprintf("- %s: %s", et.Label, et.Description))
			if len(et.Examples) > 0 {
				sb.WriteString(fmt.Sprintf(" (e.g. %s)", strings.Join(et.Examples, "; ")))
			}
			if len(et.RequiredProperties) > 0 {
				sb.WriteString(fmt.Sprintf(" [required properties: %s]", strings.Join(et.RequiredProperties, ", ")))
			}
			sb.WriteString("\n")
		}
	}

	if len(t.RelationshipTypes) > 0 {
		sb.WriteString("\nRELATIONSHIP TYPES:\n")
		for _, rt := range t.RelationshipTypes {
			sb.WriteString(fmt.Sprintf("- %s: %s", rt.Type, rt.Description))
			if len(rt.From) > 0 || len(rt.To) > 0 {
				sb.WriteString(fmt.Sprintf(" (%s -> %s)", labelSet(rt.From), labelSet(rt.To)))
			}
			if len(rt.Examples) > 0 {
				sb.WriteString(fmt.Sprintf(" (e.g. %s)", strings.Join(rt.Examples, "; ")))
			}
			sb.WriteString("\n")
		}
	}

	if t.OutputFormat != "" {
		sb.WriteString("\nOUTPUT FORMAT:\n")
		sb.WriteString(t.OutputFormat)
		sb.WriteString("\n")
	}

	if len(t.Rules) > 0 {
		sb.WriteString("\nRULES:\n")
		for _, r := range t.Rules {
			sb.WriteString("- ")
			sb.WriteString(r)
			sb.WriteString("\n")
		}
	}

	if len(t.Examples) > 0 {
		sb.WriteString("\nEXAMPLES:\n")
		for _, ex := range t.Examples {
			sb.WriteString("Input: ")
			sb.WriteString(ex.Text)
			sb.WriteString("\nOutput:\n")
			sb.WriteString(ex.Output)
			sb.WriteString("\n\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func labelSet(labels []string) string {
	if len(labels) == 0 {
		return "any"
	}
	return strings.Join(labels, "|")
}

// UnmarshalOverride parses a raw JSON override into a Template and
// shape-checks it.
func UnmarshalOverride(raw []byte) (Template, error) {
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return Template{}, fmt.Errorf("extract: parsing template override: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}
