package main

import (
	"context"
	"fmt"

	"github.com/metalagman/plancheck/internal/annotate"
	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/metalagman/plancheck/internal/config"
	"github.com/metalagman/plancheck/internal/db"
	"github.com/metalagman/plancheck/internal/enrich"
	"github.com/metalagman/plancheck/internal/history"
	"github.com/metalagman/plancheck/internal/manifest"
	"github.com/metalagman/plancheck/internal/metrics"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/pdfpages"
	"github.com/metalagman/plancheck/internal/pipeline"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/repair"
	"github.com/metalagman/plancheck/internal/subagent"
	"github.com/rs/zerolog/log"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg       config.Config
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
	pipeline  *pipeline.Pipeline
	annotator *annotate.Annotator
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	rc := cfg.Reasoning
	client, err := reasoning.New(ctx, reasoning.Config{
		Model:      rc.Model,
		APIKey:     rc.APIKey,
		APIKeyEnv:  rc.APIKeyEnv,
		BaseURL:    rc.BaseURL,
		Timeout:    rc.Timeout,
		MaxRetries: rc.MaxRetries,
		Backoff:    rc.Backoff,
	}, nil)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, client)
}

// assemble wires the pipeline around client.
func assemble(cfg config.Config, client reasoning.Client) (*app, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var parserOpts []repair.Option
	if cfg.Repair.Lenient {
		parserOpts = append(parserOpts, repair.WithLenientFallback())
	}
	parser := repair.New(parserOpts...)
	extractor := pdfpages.NewPDFCPU()
	tokens := cfg.Reasoning.MaxOutputTokens

	classifier := manifest.NewClassifier(client,
		manifest.WithParser(parser),
		manifest.WithExtractor(extractor),
		manifest.WithMaxTokens(tokens.Manifest),
	)
	enricher := enrich.NewEnricher(client, cat,
		enrich.WithParser(parser),
		enrich.WithMaxTokens(tokens.Enrich),
		enrich.WithCache(cfg.Enrich.CacheSize, cfg.Enrich.CacheTTL),
	)
	runner := subagent.NewRunner(client, cat,
		subagent.WithParser(parser),
		subagent.WithExtractor(extractor),
		subagent.WithMaxTokens(tokens.SubAgent),
	)

	m := metrics.New()
	p := pipeline.New(pipeline.Deps{
		Classifier: classifier,
		Enricher:   enricher,
		Runner:     runner,
		Routes:     cat.Agents(),
	}, pipeline.WithObserver(m))

	annotator := annotate.NewAnnotator(client,
		annotate.WithParser(parser),
		annotate.WithMaxTokens(tokens.Annotate),
	)

	return &app{cfg: cfg, catalog: cat, metrics: m, pipeline: p, annotator: annotator}, nil
}

// annotateReport places the findings of rep on doc. A failure is recorded in
// diag and yields no markers; the review itself stands.
func (a *app) annotateReport(ctx context.Context, doc []byte, rep model.ReportData, diag *model.Diagnostics) []model.Annotation {
	anns, usage, err := a.annotator.Annotate(ctx, doc, rep)
	diag.Usage = diag.Usage.Add(usage)
	if err != nil {
		log.Warn().Err(err).Str("run_id", diag.RunID).Msg("annotation failed")
		diag.AddError("annotation: " + err.Error())
		return nil
	}
	return anns
}

func openHistory(cfg config.Config) (*history.Store, func(), error) {
	database, err := db.Open(cfg.Store.Path)
	if err != nil {
		return nil, func() {}, err
	}
	return history.NewStore(database), func() { _ = database.Close() }, nil
}

// openHistoryOrWarn returns nil when the ledger is unavailable; analysis
// proceeds without recording.
func openHistoryOrWarn(cfg config.Config) (*history.Store, func()) {
	store, closeFn, err := openHistory(cfg)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("run history unavailable")
		return nil, func() {}
	}
	return store, closeFn
}
