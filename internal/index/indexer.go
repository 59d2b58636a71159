package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vulnscope/internal/chunk"
)

// Row is a chunk prepared for vector storage. ContentHash identifies the
// row across runs; Vector is filled by the indexer just before insert.
type Row struct {
	Content     string
	ParentID    string
	SourceTag   string
	Title       string
	URL         string
	OrderIndex  int
	TokenCount  int
	ContentHash string
	Vector      []float32
}

// Embedder turns chunk contents into vectors. Model identifies the
// embedding model so callers can verify index-time and query-time match.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Store is the vector database surface the indexer writes through.
type Store interface {
	ExistingHashes(ctx context.Context, hashes []string) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, rows []Row) error
	Truncate(ctx context.Context, sourceTag string) error
}

var ErrEmbeddingProvider = errors.New("index: embedding provider failure")

type Options struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxTokens      int
	OverlapTokens  int
}

func (o *Options) fillDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens <= 0 {
		o.OverlapTokens = 50
	}
}

type Indexer struct {
	embedder Embedder
	store    Store
	opts     Options
}

func New(embedder Embedder, store Store, opts Options) *Indexer {
	opts.fillDefaults()
	return &Indexer{embedder: embedder, store: store, opts: opts}
}

// Model reports the embedding model the indexer writes vectors with.
func (ix *Indexer) Model() string {
	return ix.embedder.Model()
}

// ContentHash derives the stable identity of a chunk from everything that
// makes it unique. Re-indexing unchanged content always produces the same
// hash, which is what makes indexing idempotent.
func ContentHash(sourceTag, parentID string, orderIndex int, content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", sourceTag, parentID, orderIndex, content)))
	return hex.EncodeToString(sum[:])
}

// RowsFromDocument chunks a document and builds hash-stamped rows ready for
// IndexRows.
func (ix *Indexer) RowsFromDocument(doc chunk.Document) ([]Row, error) {
	chunks, err := chunk.Split(doc, ix.opts.MaxTokens, ix.opts.OverlapTokens)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, Row{
			Content:     c.Content,
			ParentID:    c.ParentID,
			SourceTag:   doc.SourceTag,
			Title:       doc.Title,
			URL:         doc.URL,
			OrderIndex:  c.OrderIndex,
			TokenCount:  c.TokenCount,
			ContentHash: ContentHash(doc.SourceTag, c.ParentID, c.OrderIndex, c.Content),
		})
	}
	return rows, nil
}

// IndexDocuments chunks and indexes every document, skipping documents with
// empty bodies. Returns the number of newly inserted rows.
func (ix *Indexer) IndexDocuments(ctx context.Context, docs []chunk.Document) (int, error) {
	var rows []Row
	for _, doc := range docs {
		docRows, err := ix.RowsFromDocument(doc)
		if err != nil {
			if errors.Is(err, chunk.ErrEmptyDocument) {
				slog.WarnContext(ctx, "skipping document with empty body", "document_id", doc.ID)
				continue
			}
			return 0, err
		}
		rows = append(rows, docRows...)
	}
	return ix.IndexRows(ctx, rows)
}

// Rebuild drops everything stored under sourceTag and indexes docs from
// scratch.
func (ix *Indexer) Rebuild(ctx context.Context, sourceTag string, docs []chunk.Document) (int, error) {
	if err := ix.store.Truncate(ctx, sourceTag); err != nil {
		return 0, fmt.Errorf("truncating %s: %w", sourceTag, err)
	}
	return ix.IndexDocuments(ctx, docs)
}

// IndexRows embeds and inserts rows whose content hash is not yet stored.
// Embedding runs per batch with bounded exponential retry; a batch that
// still fails is reported in the joined error without stopping the other
// batches. The returned count covers newly inserted rows only.
func (ix *Indexer) IndexRows(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	hashes := make([]string, len(rows))
	for i, r := range rows {
		hashes[i] = r.ContentHash
	}
	existing, err := ix.store.ExistingHashes(ctx, hashes)
	if err != nil {
		return 0, fmt.Errorf("checking existing hashes: %w", err)
	}

	pending := rows[:0:0]
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := existing[r.ContentHash]; dup {
			continue
		}
		if _, dup := seen[r.ContentHash]; dup {
			continue
		}
		seen[r.ContentHash] = struct{}{}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "index run found nothing new", "candidates", len(rows))
		return 0, nil
	}

	inserted := 0
	var batchErrs []error
	for start := 0; start < len(pending); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(pending))
		batch := pending[start:end]
		if err := ix.indexBatch(ctx, batch); err != nil {
			slog.ErrorContext(ctx, "index batch failed", "offset", start, "size", len(batch), "error", err)
			batchErrs = append(batchErrs, fmt.Errorf("batch at offset %d: %w", start, err))
			continue
		}
		inserted += len(batch)
	}

	slog.InfoContext(ctx, "index run finished",
		"candidates", len(rows),
		"skipped_existing", len(rows)-len(pending),
		"inserted", inserted,
		"failed_batches", len(batchErrs))
	return inserted, errors.Join(batchErrs...)
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []Row) error {
	texts := make([]string, len(batch))
	for i, r := range batch {
		texts[i] = r.Content
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ix.opts.InitialBackoff
	vectors, err := backoff.RetryWithData(func() ([][]float32, error) {
		return ix.embedder.EmbedBatch(ctx, texts)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(ix.opts.MaxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingProvider, len(vectors), len(batch))
	}

	for i := range batch {
		batch[i].Vector = vectors[i]
	}
	if err := ix.store.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}
