package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vulnscope/features/analysis"
	"vulnscope/features/corpus"
	"vulnscope/features/job"
	"vulnscope/features/stats"
	"vulnscope/internal/config"
	"vulnscope/internal/index"
	"vulnscope/internal/middleware"
	"vulnscope/internal/orchestrator"
	"vulnscope/internal/retrieval"
	"vulnscope/internal/worker"
)

// VectorStore is the full surface the app needs from the vector database.
type VectorStore interface {
	index.Store
	retrieval.VectorStore
	CountChunks(ctx context.Context) (int, error)
	EnsureSchema(ctx context.Context) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Embedder serves both index-time batches and query-time single texts.
// Passing one instance everywhere is what guarantees the index and the
// queries share a model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type App struct {
	Handler       http.Handler
	CorpusService *corpus.Service
	Orchestrator  *orchestrator.Orchestrator
	IndexConsumer *worker.IndexConsumer

	port int
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	taskPub TaskPublisher,
	embedder Embedder,
	analyzer orchestrator.Analyzer,
) (*App, error) {

	// Feature: Corpus
	corpusRepo := corpus.NewPostgresRepo(db)
	corpusService := corpus.NewService(corpusRepo, taskPub)
	corpusHandler := corpus.NewHandler(corpusService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(corpusRepo, jobRepo, vecStore)

	// Pipeline: chunk -> embed -> store, and its read side
	indexer := index.New(embedder, vecStore, index.Options{
		BatchSize:     cfg.IndexBatchSize,
		MaxAttempts:   cfg.EmbedRetryAttempts,
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	})
	retrievalService := retrieval.NewService(embedder, vecStore, cfg.RetrievalTopK).
		WithMaxDistance(cfg.RetrievalMaxDistance)
	if cfg.QueryLogPath != "" {
		queryLog, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			return nil, fmt.Errorf("opening query log: %w", err)
		}
		retrievalService.WithQueryLogger(queryLog)
	}

	orch := orchestrator.New(retrievalService, analyzer, orchestrator.Options{
		Concurrency:    cfg.AnalysisConcurrency,
		FindingTimeout: time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
		RunTimeout:     time.Duration(cfg.RunTimeoutSeconds) * time.Second,
	})
	analysisHandler := analysis.NewHandler(orch)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /analyze", middleware.CorrelationID(enableCORS(analysisHandler.Analyze)))

	mux.Handle("POST /corpus/documents", middleware.CorrelationID(enableCORS(corpusHandler.Ingest)))
	mux.Handle("GET /corpus/documents", middleware.CorrelationID(enableCORS(corpusHandler.List)))
	mux.Handle("GET /corpus/documents/{id}", middleware.CorrelationID(enableCORS(corpusHandler.Get)))
	mux.Handle("POST /corpus/reindex", middleware.CorrelationID(enableCORS(corpusHandler.Reindex)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	indexConsumer := worker.NewIndexConsumer(indexer, corpusRepo, jobRepo)

	return &App{
		Handler:       mux,
		CorpusService: corpusService,
		Orchestrator:  orch,
		IndexConsumer: indexConsumer,
		port:          cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
