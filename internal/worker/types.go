package worker

import (
	"context"

	"vulnscope/features/corpus"
	"vulnscope/features/job"
	"vulnscope/internal/chunk"
)

// Indexer runs chunk+embed+insert for a set of documents.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []chunk.Document) (int, error)
	Rebuild(ctx context.Context, sourceTag string, docs []chunk.Document) (int, error)
}

// DocumentLoader feeds the consumer the documents registered for a
// sourceTag.
type DocumentLoader interface {
	ListBySourceTag(ctx context.Context, sourceTag string) ([]corpus.Document, error)
}

// JobRecorder persists terminal failures so they can be retried later.
type JobRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}
