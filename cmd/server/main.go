package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akasha-ai/akasha"
	"github.com/akasha-ai/akasha/graphdb"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := akasha.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("AKASHA_DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("AKASHA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AKASHA_NEO4J_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("AKASHA_NEO4J_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("AKASHA_NEO4J_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("AKASHA_LLM_PROVIDER"); v != "" {
		cfg.Providers.LLM.Type = v
	}
	if v := os.Getenv("AKASHA_LLM_MODEL"); v != "" {
		cfg.Providers.LLM.Model = v
	}
	if v := os.Getenv("AKASHA_LLM_API_KEY"); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := os.Getenv("AKASHA_EMBED_PROVIDER"); v != "" {
		cfg.Providers.Embedding.Type = v
	}
	if v := os.Getenv("AKASHA_EMBED_MODEL"); v != "" {
		cfg.Providers.Embedding.Model = v
	}
	if v := os.Getenv("AKASHA_EMBED_API_KEY"); v != "" {
		cfg.Providers.Embedding.APIKey = v
	}
	if v := os.Getenv("AKASHA_SCOPE_ID"); v != "" {
		cfg.Scope = &graphdb.Scope{ID: v, Type: "deployment", Name: v}
	}

	// Fallback: well-known provider env vars.
	if cfg.Providers.LLM.APIKey == "" {
		switch cfg.Providers.LLM.Type {
		case "openai":
			cfg.Providers.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.Providers.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "deepseek":
			cfg.Providers.LLM.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		}
	}
	if cfg.Providers.Embedding.APIKey == "" && cfg.Providers.Embedding.Type == "openai" {
		cfg.Providers.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("AKASHA_API_KEY")
	corsOrigins := os.Getenv("AKASHA_CORS_ORIGINS")

	engine, err := akasha.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	if err := engine.Connect(context.Background()); err != nil {
		slog.Error("connecting", "error", err)
		os.Exit(1)
	}
	defer engine.Close(context.Background())

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/graphrag/query", h.handleQuery)
	mux.HandleFunc("POST /api/graph/extract", h.handleExtract)
	mux.HandleFunc("POST /api/graph/extract/batch", h.handleExtractBatch)
	mux.HandleFunc("POST /api/graph/entities", h.handleCreateEntity)
	mux.HandleFunc("POST /api/graph/entities/batch", h.handleCreateEntitiesBatch)
	mux.HandleFunc("GET /api/graph/entities", h.handleListEntities)
	mux.HandleFunc("GET /api/graph/entities/{id}", h.handleGetEntity)
	mux.HandleFunc("PUT /api/graph/entities/{id}", h.handleUpdateEntity)
	mux.HandleFunc("DELETE /api/graph/entities/{id}", h.handleDeleteEntity)
	mux.HandleFunc("POST /api/graph/relationships", h.handleCreateRelationship)
	mux.HandleFunc("POST /api/graph/relationships/batch", h.handleCreateRelationshipsBatch)
	mux.HandleFunc("GET /api/graph/relationships", h.handleListRelationships)
	mux.HandleFunc("GET /api/graph/relationships/{id}", h.handleGetRelationship)
	mux.HandleFunc("PUT /api/graph/relationships/{id}", h.handleUpdateRelationship)
	mux.HandleFunc("DELETE /api/graph/relationships/{id}", h.handleDeleteRelationship)
	mux.HandleFunc("GET /api/health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // extraction calls can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
