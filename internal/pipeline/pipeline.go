// Package pipeline runs the full plan review: classify and enrich, decompose,
// analyze with parallel sub-agents, then assemble the report.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/plancheck/internal/decompose"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/report"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/metalagman/plancheck/internal/pipeline"

// ErrManifest wraps a page classification failure, the only fatal stage error.
var ErrManifest = errors.New("page manifest failed")

// Classifier builds the page manifest.
type Classifier interface {
	Classify(ctx context.Context, doc []byte) (model.PageManifest, model.Usage, error)
}

// Enricher returns the enriched catalog, or the base catalog and an error.
type Enricher interface {
	EnrichOrFallback(ctx context.Context, jurisdiction string) ([]model.EnrichedCategory, model.Usage, error)
}

// TaskRunner executes one sub-agent task and never fails.
type TaskRunner interface {
	Run(ctx context.Context, task model.SubAgentTask, doc []byte) model.SubAgentResult
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Classifier Classifier
	Enricher   Enricher
	Runner     TaskRunner
	Routes     []model.AgentRoute
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithClock sets the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline orchestrates one run per call. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	deps     Deps
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

// New returns a Pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:     deps,
		observer: NopObserver{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run analyzes doc. Only a classification failure or a cancelled context
// returns an error; every other failure is recorded in the diagnostics and
// reflected as VERIFY checks in the report.
func (p *Pipeline) Run(ctx context.Context, doc []byte, documentName, jurisdiction string) (model.ReportData, model.Diagnostics, error) {
	start := time.Now()
	diag := model.Diagnostics{
		RunID:        newRunID(),
		DocumentName: documentName,
		Jurisdiction: jurisdiction,
		Errors:       []string{},
	}
	diag.Enter(model.PhaseStart)

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("plancheck.run_id", diag.RunID),
		attribute.String("plancheck.document", documentName),
		attribute.Int("plancheck.document_bytes", len(doc)),
	))
	defer span.End()

	logger := log.With().Str("run_id", diag.RunID).Str("document", documentName).Logger()
	logger.Info().Int("bytes", len(doc)).Str("jurisdiction", jurisdiction).Msg("analysis started")

	abort := func(err error) (model.ReportData, model.Diagnostics, error) {
		diag.Enter(model.PhaseAborted)
		diag.Timing.Total = time.Since(start)
		diag.Outcome = OutcomeAborted
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.observer.RunFinished(OutcomeAborted, diag.Timing.Total)
		logger.Error().Err(err).Dur("elapsed", diag.Timing.Total).Msg("analysis aborted")
		return model.ReportData{}, diag, err
	}

	// Phase 1: manifest and enrichment run concurrently; both are awaited.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	diag.Enter(model.PhaseClassifying)
	var (
		manifest                   model.PageManifest
		manifestUsage, enrichUsage model.Usage
		manifestErr, enrichErr     error
		categories                 []model.EnrichedCategory
	)
	var g errgroup.Group
	g.Go(func() error {
		ctx, span := p.tracer.Start(ctx, "pipeline.manifest")
		defer span.End()
		t := time.Now()
		manifest, manifestUsage, manifestErr = p.deps.Classifier.Classify(ctx, doc)
		diag.Timing.Manifest = time.Since(t)
		recordSpanErr(span, manifestErr)
		return nil
	})
	g.Go(func() error {
		ctx, span := p.tracer.Start(ctx, "pipeline.enrich")
		defer span.End()
		t := time.Now()
		categories, enrichUsage, enrichErr = p.deps.Enricher.EnrichOrFallback(ctx, jurisdiction)
		diag.Timing.Enrichment = time.Since(t)
		recordSpanErr(span, enrichErr)
		return nil
	})
	_ = g.Wait()
	p.observer.PhaseFinished(model.PhaseClassifying, max(diag.Timing.Manifest, diag.Timing.Enrichment))
	diag.Usage = diag.Usage.Add(manifestUsage).Add(enrichUsage)

	if manifestErr != nil {
		return abort(fmt.Errorf("%w: %w", ErrManifest, manifestErr))
	}
	diag.EnrichmentUsed = enrichErr == nil
	if enrichErr != nil {
		diag.AddError(fmt.Sprintf("enrichment: %v", enrichErr))
		p.observer.EnrichmentFallback()
	}
	logger.Info().
		Int("pages", manifest.TotalPages).
		Bool("enriched", diag.EnrichmentUsed).
		Dur("manifest", diag.Timing.Manifest).
		Dur("enrichment", diag.Timing.Enrichment).
		Msg("classification finished")

	// Phase 2: pure decomposition.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	diag.Enter(model.PhaseDecomposing)
	t := time.Now()
	tasks := decompose.Decompose(manifest, categories, p.deps.Routes)
	diag.Timing.Decompose = time.Since(t)
	p.observer.PhaseFinished(model.PhaseDecomposing, diag.Timing.Decompose)

	expected := 0
	for _, task := range tasks {
		expected += len(task.Checks)
		logger.Debug().
			Str("agent_id", string(task.AgentID)).
			Ints("pages", task.Pages()).
			Bool("fallback", task.UsesFallback()).
			Int("checks", len(task.Checks)).
			Msg("task planned")
	}

	// Phase 3: every task runs concurrently; all are awaited.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	diag.Enter(model.PhaseAnalyzing)
	t = time.Now()
	results := make([]model.SubAgentResult, len(tasks))
	taskDiags := make([]model.TaskDiagnostic, len(tasks))
	var tg errgroup.Group
	for i, task := range tasks {
		tg.Go(func() error {
			results[i], taskDiags[i] = p.runTask(ctx, task, doc)
			return nil
		})
	}
	_ = tg.Wait()
	diag.Timing.SubAgents = time.Since(t)
	diag.Tasks = taskDiags
	p.observer.PhaseFinished(model.PhaseAnalyzing, diag.Timing.SubAgents)

	degraded := !diag.EnrichmentUsed
	for _, r := range results {
		for _, w := range r.Warnings {
			diag.AddError(fmt.Sprintf("%s: %s", r.AgentID, w))
		}
		if r.Degraded() {
			degraded = true
			diag.AddError(fmt.Sprintf("%s: %s", r.AgentID, r.Error))
		}
		if r.Usage != nil {
			diag.Usage = diag.Usage.Add(*r.Usage)
		}
	}

	// Phase 4: assembly.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	diag.Enter(model.PhaseAssembling)
	rep := report.Assemble(results, manifest, documentName, p.now())
	if rep.Summary.TotalChecks != expected {
		msg := fmt.Sprintf("report holds %d checks, expected %d", rep.Summary.TotalChecks, expected)
		logger.Error().Msg(msg)
		diag.AddError(msg)
	}

	diag.Enter(model.PhaseDone)
	diag.Timing.Total = time.Since(start)
	outcome := OutcomeOK
	if degraded {
		outcome = OutcomeDegraded
	}
	diag.Outcome = outcome
	p.observer.RunFinished(outcome, diag.Timing.Total)
	span.SetAttributes(
		attribute.String("plancheck.overall_status", string(rep.OverallStatus)),
		attribute.Int("plancheck.total_checks", rep.Summary.TotalChecks),
	)

	logger.Info().
		Str("overall", string(rep.OverallStatus)).
		Int("checks", rep.Summary.TotalChecks).
		Int("failed", rep.Summary.Failed).
		Int("verify", rep.Summary.NeedsVerification).
		Int("errors", len(diag.Errors)).
		Dur("elapsed", diag.Timing.Total).
		Msg("analysis finished")
	return rep, diag, nil
}

func (p *Pipeline) runTask(ctx context.Context, task model.SubAgentTask, doc []byte) (model.SubAgentResult, model.TaskDiagnostic) {
	ctx, span := p.tracer.Start(ctx, "pipeline.subagent", trace.WithAttributes(
		attribute.String("plancheck.agent_id", string(task.AgentID)),
		attribute.Int("plancheck.pages", len(task.Pages())),
		attribute.Bool("plancheck.fallback_pages", task.UsesFallback()),
	))
	defer span.End()

	start := time.Now()
	res := p.deps.Runner.Run(ctx, task, doc)
	d := time.Since(start)

	if res.Degraded() {
		span.SetStatus(codes.Error, res.Error)
	}
	p.observer.TaskFinished(task.AgentID, res.Degraded(), d)

	return res, model.TaskDiagnostic{
		AgentID:      task.AgentID,
		Pages:        task.Pages(),
		FallbackUsed: task.UsesFallback(),
		Checks:       len(task.Checks),
		Duration:     d,
		Degraded:     res.Degraded(),
		Error:        res.Error,
		Usage:        res.Usage,
	}
}

func recordSpanErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func newRunID() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), hex.EncodeToString(buf))
}
