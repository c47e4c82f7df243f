// Package akasha implements a GraphRAG engine: it ingests free-form text,
// extracts a typed property graph with an LLM, stores it alongside vector
// embeddings, and answers questions through hybrid vector retrieval, graph
// expansion, and LLM synthesis. Instances are scope-isolated, context-tagged,
// and temporally aware.
package akasha

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akasha-ai/akasha/events"
	"github.com/akasha-ai/akasha/extract"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/graphdb/memory"
	"github.com/akasha-ai/akasha/graphdb/neo4j"
	"github.com/akasha-ai/akasha/graphdb/sqlite"
	"github.com/akasha-ai/akasha/llm"
	"github.com/akasha-ai/akasha/parser"
)

// Akasha is one engine instance: the unit of scope, configuration, and
// state. Safe for concurrent use.
type Akasha struct {
	cfg       Config
	db        graphdb.Provider
	generator llm.Provider
	embedder  llm.Embedder
	extractor *extract.Extractor
	emitter   *events.Emitter
	parsers   *parser.Registry
	logger    *slog.Logger
}

// Option customizes construction, mainly for substituting providers in tests.
type Option func(*Akasha)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Akasha) { a.logger = l }
}

// WithDatabaseProvider injects a storage backend, bypassing the config
// factory.
func WithDatabaseProvider(p graphdb.Provider) Option {
	return func(a *Akasha) { a.db = p }
}

// WithLLMProvider injects a generation provider.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *Akasha) { a.generator = p }
}

// WithEmbedder injects an embedding provider.
func WithEmbedder(e llm.Embedder) Option {
	return func(a *Akasha) { a.embedder = e }
}

// New validates the config and builds an instance. The database is not
// dialed until Connect.
func New(cfg Config, opts ...Option) (*Akasha, error) {
	if res := ValidateConfig(cfg); !res.Valid {
		return nil, fmt.Errorf("%w: %s: %s", ErrValidation, res.Errors[0].Field, res.Errors[0].Message)
	}

	a := &Akasha{
		cfg:     cfg,
		emitter: events.NewEmitter(),
		parsers: parser.NewRegistry(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.generator == nil {
		if a.generator, err = llm.NewProvider(cfg.Providers.LLM); err != nil {
			return nil, fmt.Errorf("%w: providers.llm: %v", ErrValidation, err)
		}
	}
	if a.embedder == nil {
		if a.embedder, err = llm.NewEmbedder(cfg.Providers.Embedding); err != nil {
			return nil, fmt.Errorf("%w: providers.embedding: %v", ErrValidation, err)
		}
	}
	if a.db == nil {
		if a.db, err = newDatabaseProvider(cfg.Database, a.embedder.Dimensions()); err != nil {
			return nil, err
		}
	}

	template := extract.DefaultTemplate()
	if cfg.ExtractionPrompt != nil {
		template = extract.Merge(template, *cfg.ExtractionPrompt)
	}
	a.extractor = extract.NewExtractor(a.generator, template, a.logger)

	return a, nil
}

// newDatabaseProvider dispatches on the config's type tag. The tag table
// matches ValidateConfig.
func newDatabaseProvider(cfg DatabaseConfig, embeddingDim int) (graphdb.Provider, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlite.New(cfg.Path, embeddingDim), nil
	case "neo4j":
		return neo4j.New(neo4j.Config{
			URI:          cfg.URI,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Database:     cfg.Database,
			EmbeddingDim: embeddingDim,
		}), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: database.type: unknown type %q", ErrValidation, cfg.Type)
	}
}

// Connect dials the database and ensures the vector indexes exist.
func (a *Akasha) Connect(ctx context.Context) error {
	if err := a.db.Connect(ctx); err != nil {
		return err
	}
	if err := a.db.EnsureVectorIndexes(ctx); err != nil {
		return err
	}
	a.logger.Info("connected",
		"database", a.cfg.Database.Type,
		"llm", a.generator.Provider(),
		"embedding", a.embedder.Provider(),
		"scope", a.cfg.ScopeID())
	return nil
}

// Close flushes pending events and disconnects the database.
func (a *Akasha) Close(ctx context.Context) error {
	a.emitter.Close()
	return a.db.Disconnect(ctx)
}

// Events exposes the notification bus for handler registration.
func (a *Akasha) Events() *events.Emitter { return a.emitter }

// Parsers exposes the file parser registry so callers can register custom
// formats before LearnFile.
func (a *Akasha) Parsers() *parser.Registry { return a.parsers }

// ComponentHealth reports one dependency's availability.
type ComponentHealth struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Health is the aggregate health report.
type Health struct {
	Status    string          `json:"status"`
	Database  ComponentHealth `json:"database"`
	Embedding ComponentHealth `json:"embedding"`
	Timestamp string          `json:"timestamp"`
}

// HealthCheck probes the database and the embedding provider.
func (a *Akasha) HealthCheck(ctx context.Context) Health {
	h := Health{Status: "ok", Timestamp: graphdb.Now()}

	if err := a.db.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Database.Error = err.Error()
	} else {
		h.Database.Connected = true
	}

	if _, err := a.embedder.Embed(ctx, "ping"); err != nil {
		h.Status = "degraded"
		h.Embedding.Error = err.Error()
	} else {
		h.Embedding.Connected = true
	}

	return h
}

func (a *Akasha) scopeID() string { return a.cfg.ScopeID() }
