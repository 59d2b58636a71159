package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"vulnscope/internal/orchestrator"
	"vulnscope/internal/report"
	"vulnscope/internal/retrieval"
)

var (
	ErrEmptyCompletion   = errors.New("gemini: empty completion response")
	ErrMalformedAnalysis = errors.New("gemini: completion is not a valid analysis")
)

const systemPrompt = `You are a senior application security analyst. You receive one
vulnerability identifier plus reference excerpts retrieved from a curated
knowledge base. Ground every statement in the excerpts; when they do not
cover something, say so rather than inventing details. Respond with a single
JSON object using exactly these keys: vulnerability_id, title, summary,
severity_assessment, technical_details, prevention_strategies,
detection_methods, suggested_next_step, source_urls.
suggested_next_step must always contain one concrete, actionable step.`

// Analyzer generates structured vulnerability analyses through Gemini,
// with the same limiter/breaker discipline as the embedder.
type Analyzer struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewAnalyzer(client *genai.Client, model string, rpm int) *Analyzer {
	if rpm <= 0 {
		rpm = 60
	}
	return &Analyzer{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/4+1),
		breaker: newBreaker("gemini-analyzer"),
	}
}

func (a *Analyzer) Analyze(ctx context.Context, finding report.Finding, rc retrieval.RetrievedContext) (*orchestrator.Analysis, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	prompt := buildPrompt(finding, rc)
	out, err := a.breaker.Execute(func() (any, error) {
		model := a.client.GenerativeModel(a.model)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
		model.ResponseMIMEType = "application/json"
		model.SetTemperature(0.2)

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return completionText(resp)
	})
	if err != nil {
		slog.ErrorContext(ctx, "analysis generation failed", "model", a.model, "finding_id", finding.ID, "error", err)
		return nil, err
	}

	analysis, err := parseAnalysis(out.(string))
	if err != nil {
		return nil, err
	}

	// The model occasionally omits fields it was not asked to invent;
	// backfill them from what we already know.
	if analysis.VulnerabilityID == "" {
		analysis.VulnerabilityID = finding.ID
	}
	if len(analysis.SourceURLs) == 0 {
		analysis.SourceURLs = rc.CitationURLs
	}
	return analysis, nil
}

func buildPrompt(finding report.Finding, rc retrieval.RetrievedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vulnerability identifier: %s (source family: %s)\n\n", finding.ID, finding.SourceTag)
	if len(rc.Chunks) == 0 {
		b.WriteString("No reference excerpts were found in the knowledge base. State this limitation in the summary and keep the analysis conservative.\n")
	} else {
		b.WriteString("Reference excerpts, nearest first:\n\n")
		for i, chunk := range rc.Chunks {
			fmt.Fprintf(&b, "--- excerpt %d ---\n%s\n\n", i+1, chunk)
		}
	}
	if len(rc.CitationURLs) > 0 {
		b.WriteString("Citation URLs for source_urls:\n")
		for _, url := range rc.CitationURLs {
			fmt.Fprintf(&b, "- %s\n", url)
		}
	}
	return b.String()
}

func completionText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return b.String(), nil
}

func parseAnalysis(raw string) (*orchestrator.Analysis, error) {
	var analysis orchestrator.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAnalysis, err)
	}
	if analysis.Title == "" || analysis.Summary == "" {
		return nil, fmt.Errorf("%w: missing title or summary", ErrMalformedAnalysis)
	}
	if analysis.SuggestedNextStep == "" {
		return nil, fmt.Errorf("%w: missing suggested_next_step", ErrMalformedAnalysis)
	}
	return &analysis, nil
}
