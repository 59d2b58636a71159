package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"vulnscope/internal/middleware"
	"vulnscope/internal/report"
)

// StoredChunk is a nearest-neighbor hit as returned by the vector store.
// Distance is the store's distance metric; lower is closer.
type StoredChunk struct {
	Content    string
	ParentID   string
	Title      string
	URL        string
	OrderIndex int
	Distance   float32
}

// Embedder produces the query vector. It must be the same model the index
// was built with, which the service enforces by sharing one instance.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type VectorStore interface {
	Nearest(ctx context.Context, vector []float32, limit int) ([]StoredChunk, error)
}

// RetrievedContext is everything the analyzer needs about one finding:
// nearest chunk contents in relevance order plus their citation URLs.
type RetrievedContext struct {
	Finding      report.Finding `json:"finding"`
	Chunks       []string       `json:"chunks"`
	CitationURLs []string       `json:"citation_urls"`
	Distances    []float32      `json:"distances"`
	Query        string         `json:"query"`
}

// DefaultMaxDistance is the cosine-distance cutoff for nearest hits,
// equivalent to a similarity of 0.7. Hits beyond it are unrelated corpus
// content, not grounding.
const DefaultMaxDistance float32 = 0.3

type Service struct {
	embedder    Embedder
	store       VectorStore
	topK        int
	maxDistance float32
	queryLog    *QueryLogger
}

func NewService(embedder Embedder, store VectorStore, topK int) *Service {
	if topK <= 0 {
		topK = 5
	}
	return &Service{embedder: embedder, store: store, topK: topK, maxDistance: DefaultMaxDistance}
}

// WithQueryLogger attaches a JSONL query log. Nil disables logging.
func (s *Service) WithQueryLogger(l *QueryLogger) *Service {
	s.queryLog = l
	return s
}

// WithMaxDistance overrides the relevance cutoff. Non-positive values keep
// the default.
func (s *Service) WithMaxDistance(d float32) *Service {
	if d > 0 {
		s.maxDistance = d
	}
	return s
}

// Model reports the embedding model used for query vectors.
func (s *Service) Model() string {
	return s.embedder.Model()
}

// Retrieve embeds an enhanced query for the finding and returns the topK
// nearest chunks within the relevance cutoff. A chunk that literally
// mentions the finding id is kept even beyond the cutoff. No match is a
// valid outcome: the context comes back with empty chunks and the caller
// decides what to do with it.
func (s *Service) Retrieve(ctx context.Context, finding report.Finding) (RetrievedContext, error) {
	start := time.Now()
	query := buildQuery(finding)
	out := RetrievedContext{Finding: finding, Query: query}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return out, fmt.Errorf("embedding query for %s: %w", finding.ID, err)
	}

	hits, err := s.store.Nearest(ctx, vector, s.topK)
	if err != nil {
		return out, fmt.Errorf("searching context for %s: %w", finding.ID, err)
	}

	// Equal-distance hits order by (parentId, orderIndex) so output is
	// stable across runs.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].ParentID != hits[j].ParentID {
			return hits[i].ParentID < hits[j].ParentID
		}
		return hits[i].OrderIndex < hits[j].OrderIndex
	})

	seenURL := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if hit.Distance > s.maxDistance && !mentionsFinding(hit.Content, finding.ID) {
			continue
		}
		out.Chunks = append(out.Chunks, hit.Content)
		out.Distances = append(out.Distances, hit.Distance)
		url := strings.TrimSpace(hit.URL)
		if url == "" {
			continue
		}
		if _, dup := seenURL[url]; dup {
			continue
		}
		seenURL[url] = struct{}{}
		out.CitationURLs = append(out.CitationURLs, url)
	}

	if s.queryLog != nil {
		entry := QueryLogEntry{
			FindingID:     finding.ID,
			SourceTag:     finding.SourceTag,
			Query:         query,
			NumChunks:     len(out.Chunks),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		}
		if len(out.Distances) > 0 {
			entry.TopDistance = out.Distances[0]
		}
		s.queryLog.Log(entry)
	}
	return out, nil
}

// mentionsFinding reports whether chunk text literally names the finding
// id. Extracted ids are uppercase, so the comparison normalizes the chunk.
func mentionsFinding(content, id string) bool {
	return strings.Contains(strings.ToUpper(content), id)
}

// buildQuery enriches the bare identifier with family terms so the query
// vector lands near prose describing the class of weakness, not just near
// literal id mentions.
func buildQuery(finding report.Finding) string {
	parts := []string{finding.ID}
	switch finding.SourceTag {
	case report.SourceMITRE:
		parts = append(parts, "attack technique", "adversary tactic")
	case report.SourceOWASP:
		parts = append(parts, "web application security risk", "vulnerability category")
	case report.SourceCVE:
		parts = append(parts, "vulnerability", "exploit", "remediation")
	}
	return strings.Join(parts, " ")
}
