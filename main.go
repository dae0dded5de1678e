package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"confluenceqa/features/qa"
	"confluenceqa/internal/adapter/gemini"
	pgstore "confluenceqa/internal/adapter/pgvector"
	wstore "confluenceqa/internal/adapter/weaviate"
	"confluenceqa/internal/config"
	"confluenceqa/internal/confluence"
	"confluenceqa/internal/logger"
	"confluenceqa/internal/middleware"
	"confluenceqa/internal/pipeline"
	"confluenceqa/internal/text"
	"confluenceqa/internal/vector"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Vector Index Backend
	var index pipeline.VectorIndex
	switch cfg.VectorBackend {
	case "pgvector":
		index, err = openPgvector(cfg)
	case "weaviate":
		index, err = openWeaviate(cfg)
	}
	if err != nil {
		slog.Error("failed to open vector backend", "backend", cfg.VectorBackend, "error", err)
		os.Exit(1)
	}

	// 3. Chunker & Query Log
	chunker, err := text.NewDefaultChunker()
	if err != nil {
		slog.Error("failed to build chunker", "error", err)
		os.Exit(1)
	}

	queryLogger, err := pipeline.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = pipeline.NewQueryLogger(os.Stdout)
	}

	// 4. Session
	deps := pipeline.Deps{
		Index: index,
		NewEmbedder: func(ctx context.Context) (pipeline.Embedder, error) {
			return gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
		},
		NewGenerator: func(ctx context.Context) (pipeline.Generator, error) {
			return gemini.NewGenerator(ctx, cfg.GeminiAPIKey)
		},
		NewSource: func(pcfg pipeline.Config) pipeline.ContentSource {
			return confluence.NewClient(pcfg.ConfluenceURL, pcfg.Username, pcfg.APIKey, pcfg.SpaceKey, cfg.PageLimit)
		},
		Splitter: chunker,
		QueryLog: queryLogger,
	}
	session := pipeline.NewSession(deps)

	defaults := pipeline.Config{
		ConfluenceURL: cfg.ConfluenceURL,
		Username:      cfg.ConfluenceUsername,
		APIKey:        cfg.ConfluenceAPIKey,
		SpaceKey:      cfg.ConfluenceSpaceKey,
	}
	qaHandler := qa.NewHandler(qa.SessionService{Session: session}, defaults)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	http.Handle("POST /session", middleware.CorrelationID(enableCORS(qaHandler.Configure)))
	http.Handle("POST /ask", middleware.CorrelationID(enableCORS(qaHandler.Ask)))
	http.Handle("GET /ask/stream", middleware.CorrelationID(enableCORS(qaHandler.AskStream)))

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// 5. Start Server
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	slog.Info("server starting", "port", cfg.ServerPort, "backend", cfg.VectorBackend)
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openPgvector connects to Postgres, applies migrations and returns the
// pgvector-backed index.
func openPgvector(cfg *config.Config) (pipeline.VectorIndex, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", 10)
		time.Sleep(2 * time.Second)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db after retries: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("migrations applied successfully")

	return pgstore.NewStore(db), nil
}

// openWeaviate connects to Weaviate, ensures the chunk class exists and
// returns the weaviate-backed index.
func openWeaviate(cfg *config.Config) (pipeline.VectorIndex, error) {
	wClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	wAdapter := vector.NewWeaviateClientAdapter(wClient)
	for i := 0; i < 10; i++ {
		if err := vector.EnsureSchema(context.Background(), wAdapter); err == nil {
			slog.Info("weaviate schema ensured")
			break
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err := vector.EnsureSchema(context.Background(), wAdapter); err != nil {
		return nil, fmt.Errorf("ensure weaviate schema after retries: %w", err)
	}

	return wstore.NewStore(wClient), nil
}
