// Package subagent runs one focused review over a subset of plan pages.
package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/pdfpages"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/repair"
	"github.com/rs/zerolog/log"
)

const defaultMaxTokens = 8192

// DegradedFinding is the finding of every check of a failed task.
const DegradedFinding = "Automated analysis failed; manual verification required."

// Option configures a Runner.
type Option func(*Runner)

// WithParser sets the JSON repair parser.
func WithParser(p *repair.Parser) Option {
	return func(r *Runner) { r.parser = p }
}

// WithExtractor sets the page extractor. Without one every task sees the
// whole document.
func WithExtractor(x pdfpages.Extractor) Option {
	return func(r *Runner) { r.extractor = x }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// Runner executes sub-agent tasks. It is safe for concurrent use.
type Runner struct {
	client    reasoning.Client
	catalog   *catalog.Catalog
	extractor pdfpages.Extractor
	parser    *repair.Parser
	maxTokens int
}

// NewRunner returns a Runner.
func NewRunner(client reasoning.Client, cat *catalog.Catalog, opts ...Option) *Runner {
	r := &Runner{client: client, catalog: cat, parser: repair.New(), maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) categoryInfo(key model.CategoryKey) (string, string) {
	if r.catalog != nil {
		if c, ok := r.catalog.Category(key); ok {
			return c.Name, c.CodeReference
		}
	}
	return string(key), ""
}

// Run executes task against doc. It never fails: any error, including a
// panic, yields the degraded result with Error set.
func (r *Runner) Run(ctx context.Context, task model.SubAgentTask, doc []byte) (res model.SubAgentResult) {
	logger := log.With().Str("agent_id", string(task.AgentID)).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("sub-agent panicked")
			res = r.degraded(task, fmt.Errorf("panic: %v", p), res.Warnings, res.Usage)
		}
	}()

	pages := task.Pages()
	logger.Info().
		Ints("pages", pages).
		Bool("fallback", task.UsesFallback()).
		Int("checks", len(task.Checks)).
		Msg("sub-agent starting")

	var warnings []string
	sub := doc
	extracted := false
	if r.extractor != nil {
		out, err := r.extractor.Extract(doc, pages)
		if err != nil {
			logger.Warn().Err(err).Msg("page extraction failed, using full document")
			warnings = append(warnings, fmt.Sprintf("page extraction failed, using full document: %v", err))
		} else {
			sub = out
			extracted = true
		}
	}

	prompt, err := BuildPrompt(task, extracted)
	if err != nil {
		return r.degraded(task, err, warnings, nil)
	}

	resp, err := r.client.Infer(ctx, reasoning.Request{
		Label:        "subagent:" + string(task.AgentID),
		Document:     sub,
		DocumentMIME: reasoning.MimePDF,
		Instruction:  prompt,
		MaxTokens:    r.maxTokens,
	})
	usage := resp.Usage
	if err != nil {
		var spent *model.Usage
		if usage != (model.Usage{}) {
			spent = &usage
		}
		return r.degraded(task, fmt.Errorf("reasoning call: %w", err), warnings, spent)
	}

	var raw rawResponse
	if err := r.parser.Decode(resp.Text, &raw); err != nil {
		return r.degraded(task, fmt.Errorf("parse response: %w", err), warnings, &usage)
	}
	categories, missing, err := normalize(raw, task, r.categoryInfo)
	if err != nil {
		return r.degraded(task, err, warnings, &usage)
	}
	if len(missing) > 0 {
		logger.Warn().Strs("missing", missing).Msg("response omitted checks, marked VERIFY")
		warnings = append(warnings, fmt.Sprintf("response omitted %d checks: %s", len(missing), strings.Join(missing, ", ")))
	}

	logger.Info().
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Msg("sub-agent finished")
	return model.SubAgentResult{
		AgentID:    task.AgentID,
		Categories: categories,
		Warnings:   warnings,
		Usage:      &usage,
	}
}

func (r *Runner) degraded(task model.SubAgentTask, err error, warnings []string, usage *model.Usage) model.SubAgentResult {
	log.Warn().Err(err).Str("agent_id", string(task.AgentID)).Msg("sub-agent degraded, checks marked VERIFY")
	return model.SubAgentResult{
		AgentID:    task.AgentID,
		Categories: degrade(task, r.categoryInfo),
		Error:      err.Error(),
		Warnings:   warnings,
		Usage:      usage,
	}
}
