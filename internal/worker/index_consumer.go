package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"vulnscope/features/corpus"
	"vulnscope/features/job"
	"vulnscope/internal/chunk"
	"vulnscope/internal/middleware"
)

// maxAttempts is the NSQ redelivery budget before a task is written to
// failed_jobs instead of requeued.
const maxAttempts = 3

const indexRunTimeout = 10 * time.Minute

type IndexConsumer struct {
	indexer Indexer
	docs    DocumentLoader
	jobs    JobRecorder
}

func NewIndexConsumer(indexer Indexer, docs DocumentLoader, jobs JobRecorder) *IndexConsumer {
	return &IndexConsumer{indexer: indexer, docs: docs, jobs: jobs}
}

func (h *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task corpus.ReindexTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	runCtx, cancel := context.WithTimeout(ctx, indexRunTimeout)
	defer cancel()

	documents, err := h.docs.ListBySourceTag(runCtx, task.SourceTag)
	if err != nil {
		slog.ErrorContext(ctx, "loading documents failed", "source_tag", task.SourceTag, "error", err)
		return h.fail(ctx, m, task, err)
	}
	if len(documents) == 0 {
		slog.WarnContext(ctx, "no documents registered for source tag", "source_tag", task.SourceTag)
		return nil
	}

	docs := make([]chunk.Document, len(documents))
	for i, d := range documents {
		docs[i] = chunk.Document{
			ID:        d.ID,
			Title:     d.Title,
			Body:      d.Body,
			SourceTag: d.SourceTag,
			URL:       d.URL,
		}
	}

	var inserted int
	if task.Rebuild {
		inserted, err = h.indexer.Rebuild(runCtx, task.SourceTag, docs)
	} else {
		inserted, err = h.indexer.IndexDocuments(runCtx, docs)
	}
	if err != nil {
		slog.ErrorContext(ctx, "index run failed", "source_tag", task.SourceTag, "error", err)
		return h.fail(ctx, m, task, err)
	}

	slog.InfoContext(ctx, "index run completed",
		"source_tag", task.SourceTag,
		"documents", len(docs),
		"inserted", inserted,
		"rebuild", task.Rebuild)
	return nil
}

// fail requeues while attempts remain, then records a failed job and
// swallows the message so NSQ stops redelivering it.
func (h *IndexConsumer) fail(ctx context.Context, m *nsq.Message, task corpus.ReindexTask, cause error) error {
	if m.Attempts < maxAttempts {
		return cause
	}

	record := &job.Job{
		SourceTag: task.SourceTag,
		Handler:   "index-worker",
		Payload:   json.RawMessage(m.Body),
		Error:     cause.Error(),
	}
	if err := h.jobs.Save(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to record failed job", "source_tag", task.SourceTag, "error", err)
		return cause
	}
	slog.WarnContext(ctx, "task moved to failed jobs", "source_tag", task.SourceTag, "attempts", m.Attempts)
	return nil
}
