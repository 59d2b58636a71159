package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

var ErrEmptyEmbedding = errors.New("gemini: empty embedding response")

// NewClient dials the Gemini API once; the embedder and analyzer share the
// connection.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, option.WithAPIKey(apiKey))
}

// Embedder wraps Gemini embedding calls with a rate limiter and a circuit
// breaker so a misbehaving upstream sheds load instead of piling up
// retries.
type Embedder struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewEmbedder(client *genai.Client, model string, rpm int) *Embedder {
	if rpm <= 0 {
		rpm = 60
	}
	return &Embedder{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/4+1),
		breaker: newBreaker("gemini-embedder"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Model reports the embedding model identifier.
func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := e.breaker.Execute(func() (any, error) {
		em := e.client.EmbeddingModel(e.model)
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return res.Embedding.Values, nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "model", e.model, "error", err)
		return nil, err
	}
	return out.([]float32), nil
}

// EmbedBatch embeds texts in one request, preserving input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := e.breaker.Execute(func() (any, error) {
		em := e.client.EmbeddingModel(e.model)
		batch := em.NewBatch()
		for _, text := range texts {
			batch = batch.AddContent(genai.Text(text))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		if res == nil || len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmptyEmbedding, embeddingCount(res), len(texts))
		}
		vectors := make([][]float32, len(res.Embeddings))
		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: position %d", ErrEmptyEmbedding, i)
			}
			vectors[i] = emb.Values
		}
		return vectors, nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "batch embedding failed", "model", e.model, "size", len(texts), "error", err)
		return nil, err
	}
	return out.([][]float32), nil
}

func embeddingCount(res *genai.BatchEmbedContentsResponse) int {
	if res == nil {
		return 0
	}
	return len(res.Embeddings)
}
