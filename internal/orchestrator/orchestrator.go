package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vulnscope/internal/report"
	"vulnscope/internal/retrieval"
)

// Status tracks a finding through its pipeline run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRetrieving Status = "retrieving"
	StatusAnalyzing  Status = "analyzing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Analysis is the structured verdict for one finding.
type Analysis struct {
	VulnerabilityID      string   `json:"vulnerability_id"`
	Title                string   `json:"title"`
	Summary              string   `json:"summary"`
	SeverityAssessment   string   `json:"severity_assessment"`
	TechnicalDetails     string   `json:"technical_details"`
	PreventionStrategies string   `json:"prevention_strategies"`
	DetectionMethods     string   `json:"detection_methods"`
	SuggestedNextStep    string   `json:"suggested_next_step"`
	SourceURLs           []string `json:"source_urls"`
}

// Result is the terminal record for one extracted finding. Exactly one
// Result exists per unique finding id, in extraction order.
type Result struct {
	Finding  report.Finding `json:"finding"`
	Status   Status         `json:"status"`
	Analysis *Analysis      `json:"analysis,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, finding report.Finding) (retrieval.RetrievedContext, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, finding report.Finding, rc retrieval.RetrievedContext) (*Analysis, error)
}

type Options struct {
	Concurrency    int
	FindingTimeout time.Duration
	RunTimeout     time.Duration
}

func (o *Options) fillDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.FindingTimeout <= 0 {
		o.FindingTimeout = 30 * time.Second
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = 5 * time.Minute
	}
}

// Orchestrator fans a report's findings out over a bounded worker pool and
// collects one result per finding in extraction order.
type Orchestrator struct {
	retriever Retriever
	analyzer  Analyzer
	opts      Options
}

func New(retriever Retriever, analyzer Analyzer, opts Options) *Orchestrator {
	opts.fillDefaults()
	return &Orchestrator{retriever: retriever, analyzer: analyzer, opts: opts}
}

// AnalyzeReport normalizes raw input, extracts findings and analyzes each
// one concurrently. A finding that fails or times out yields a failed
// Result; it never aborts its siblings. Zero findings return an empty
// slice without touching the retriever or analyzer.
func (o *Orchestrator) AnalyzeReport(ctx context.Context, raw string) ([]Result, error) {
	normalized, err := report.Normalize(raw)
	if err != nil {
		return nil, err
	}

	findings := report.ExtractFindings(normalized)
	if len(findings) == 0 {
		slog.InfoContext(ctx, "report contained no recognizable findings")
		return []Result{}, nil
	}
	slog.InfoContext(ctx, "analyzing report", "findings", len(findings), "concurrency", o.opts.Concurrency)

	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	// Results land at their finding's extraction index, so ordering holds
	// no matter which worker finishes first.
	results := make([]Result, len(findings))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for i, finding := range findings {
		g.Go(func() error {
			results[i] = o.analyzeOne(runCtx, finding)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, finding report.Finding) Result {
	res := Result{Finding: finding, Status: StatusPending}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, res, fmt.Errorf("run deadline exhausted before start: %w", err))
	}

	fctx, cancel := context.WithTimeout(ctx, o.opts.FindingTimeout)
	defer cancel()

	res.Status = StatusRetrieving
	rc, err := o.retriever.Retrieve(fctx, finding)
	if err != nil {
		return o.fail(ctx, res, fmt.Errorf("retrieval: %w", err))
	}

	res.Status = StatusAnalyzing
	analysis, err := o.analyzer.Analyze(fctx, finding, rc)
	if err != nil {
		return o.fail(ctx, res, fmt.Errorf("analysis: %w", err))
	}

	res.Status = StatusSucceeded
	res.Analysis = analysis
	slog.InfoContext(ctx, "finding analyzed", "finding_id", finding.ID)
	return res
}

func (o *Orchestrator) fail(ctx context.Context, res Result, err error) Result {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout: " + msg
	}
	slog.WarnContext(ctx, "finding failed", "finding_id", res.Finding.ID, "stage", string(res.Status), "error", err)
	res.Status = StatusFailed
	res.Error = msg
	return res
}
