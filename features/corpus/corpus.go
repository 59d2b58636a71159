package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"vulnscope/internal/config"
	"vulnscope/internal/middleware"
)

// Document is a reference entry in the knowledge corpus. Body is the full
// text that gets chunked and embedded.
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SourceTag  string    `json:"source_tag"`
	URL        string    `json:"url,omitempty"`
	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

var ErrInvalidDocument = errors.New("corpus: document needs id, body and source_tag")

func (d *Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Body) == "" || strings.TrimSpace(d.SourceTag) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDocument, d.ID)
	}
	return nil
}

type Repository interface {
	Upsert(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	ListBySourceTag(ctx context.Context, sourceTag string) ([]Document, error)
	ListSourceTags(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// ReindexTask is the payload published for asynchronous index runs.
type ReindexTask struct {
	SourceTag     string `json:"source_tag"`
	Rebuild       bool   `json:"rebuild"`
	CorrelationID string `json:"correlation_id"`
}

type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

// Ingest validates and upserts documents, returning how many were stored.
// A document that fails validation stops the run so partial corpora do not
// slip in unnoticed.
func (s *Service) Ingest(ctx context.Context, docs []Document) (int, error) {
	stored := 0
	for i := range docs {
		doc := &docs[i]
		if err := doc.Validate(); err != nil {
			return stored, err
		}
		if err := s.repo.Upsert(ctx, doc); err != nil {
			return stored, fmt.Errorf("upserting %s: %w", doc.ID, err)
		}
		stored++
	}
	slog.InfoContext(ctx, "documents ingested", "count", stored)
	return stored, nil
}

// RequestReindex queues an asynchronous index run for one sourceTag.
func (s *Service) RequestReindex(ctx context.Context, sourceTag string, rebuild bool) error {
	if strings.TrimSpace(sourceTag) == "" {
		return fmt.Errorf("%w: empty source_tag", ErrInvalidDocument)
	}
	payload, _ := json.Marshal(ReindexTask{
		SourceTag:     sourceTag,
		Rebuild:       rebuild,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicCorpusReindex, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish reindex task", "source_tag", sourceTag, "error", err)
		return err
	}
	slog.InfoContext(ctx, "published reindex task", "source_tag", sourceTag, "rebuild", rebuild)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListBySourceTag(ctx context.Context, sourceTag string) ([]Document, error) {
	return s.repo.ListBySourceTag(ctx, sourceTag)
}

// ReadJSONL decodes one document per line, skipping blank lines. Line
// numbers in errors are 1-based so they match editor views of the file.
func ReadJSONL(r io.Reader) ([]Document, error) {
	var docs []Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
