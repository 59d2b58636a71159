package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"vulnscope/internal/adapter/gemini"
	"vulnscope/internal/app"
	"vulnscope/internal/config"
	"vulnscope/internal/logger"
)

func main() {
	// Structured logger with correlation ids pulled from context
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	// One Gemini client backs both the embedder and the analyzer; the
	// embedder instance is shared between indexing and retrieval so both
	// sides always use the same model.
	geminiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	defer geminiClient.Close()

	embedder := gemini.NewEmbedder(geminiClient, cfg.EmbeddingModel, cfg.GeminiRPM)
	analyzer := gemini.NewAnalyzer(geminiClient, cfg.AnalyzerModel, cfg.GeminiRPM)

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, embedder, analyzer)
	if err != nil {
		return err
	}

	// Index worker: consumes corpus reindex tasks
	if cfg.EnableIndexWorker {
		consumer, err := nsq.NewConsumer(config.TopicCorpusReindex, "indexer", nsq.NewConfig())
		if err != nil {
			return err
		}
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return application.IndexConsumer.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return err
		}
		defer consumer.Stop()
		slog.Info("index worker connected", "topic", config.TopicCorpusReindex)
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running worker only")
		<-ctx.Done()
		return nil
	}

	return application.Run(ctx)
}
