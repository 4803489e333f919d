package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/metalagman/plancheck/internal/enrich"
	"github.com/metalagman/plancheck/internal/manifest"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/subagent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threePages = `{"totalPages": 3, "projectInfo": {"address": "12 Palm Ave"}, "pages": [
	{"pageNumber": 1, "pageTypes": ["floor_plan"], "confidence": 0.9},
	{"pageNumber": 2, "pageTypes": ["foundation"], "confidence": 0.9},
	{"pageNumber": 3, "pageTypes": ["elevation"], "confidence": 0.9}
]}`

var checkIDPattern = regexp.MustCompile(`\[([A-Z]+-\d+)\]`)

// answerAll replies PASS for every check listed in the prompt.
func answerAll(req reasoning.Request) (reasoning.Response, error) {
	type check struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Finding string `json:"finding"`
	}
	var checks []check
	for _, m := range checkIDPattern.FindAllStringSubmatch(req.Instruction, -1) {
		checks = append(checks, check{ID: m[1], Status: "PASS", Finding: "Shown on plans."})
	}
	b, err := json.Marshal(map[string]any{"checks": checks})
	if err != nil {
		return reasoning.Response{}, err
	}
	return reasoning.Response{Text: string(b), Usage: model.Usage{InputTokens: 1000, OutputTokens: 100}}, nil
}

type handler func(req reasoning.Request) (reasoning.Response, error)

// scripted routes calls by label; unmatched labels use the defaults.
func scripted(overrides map[string]handler) reasoning.Client {
	return reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
		if h, ok := overrides[req.Label]; ok {
			return h(req)
		}
		switch {
		case req.Label == "manifest":
			return reasoning.Response{Text: threePages, Usage: model.Usage{InputTokens: 5000, OutputTokens: 300}}, nil
		case req.Label == "enrich":
			return reasoning.Response{}, errors.New("enrichment service unavailable")
		case strings.HasPrefix(req.Label, "subagent:"):
			return answerAll(req)
		}
		return reasoning.Response{}, errors.New("unexpected label " + req.Label)
	})
}

func newPipeline(client reasoning.Client, opts ...Option) *Pipeline {
	cat := catalog.MustLoad()
	return New(Deps{
		Classifier: manifest.NewClassifier(client),
		Enricher:   enrich.NewEnricher(client, cat),
		Runner:     subagent.NewRunner(client, cat),
		Routes:     cat.Agents(),
	}, opts...)
}

func allChecks(r model.ReportData) []model.CheckResult {
	var out []model.CheckResult
	for _, s := range r.Sheets {
		for _, c := range s.Categories {
			out = append(out, c.Checks...)
		}
	}
	return out
}

func TestRunProducesFullReport(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rep, diag, err := newPipeline(scripted(nil), WithClock(func() time.Time { return now })).
		Run(context.Background(), []byte("%PDF"), "plans.pdf", "Marion County")
	require.NoError(t, err)

	assert.Equal(t, catalog.TotalChecks, rep.Summary.TotalChecks)
	assert.Equal(t, catalog.TotalChecks, rep.Summary.Passed)
	assert.Equal(t, model.StatusPass, rep.OverallStatus)
	assert.Equal(t, "12 Palm Ave", rep.ProjectName)
	assert.Equal(t, now, rep.AnalyzedAt)
	assert.Equal(t, 3, rep.TotalSheets)

	ids := map[string]bool{}
	for _, c := range allChecks(rep) {
		assert.False(t, ids[c.ID], "duplicate %s", c.ID)
		ids[c.ID] = true
	}
	assert.Len(t, ids, catalog.TotalChecks)

	assert.Equal(t, []model.Phase{
		model.PhaseStart, model.PhaseClassifying, model.PhaseDecomposing,
		model.PhaseAnalyzing, model.PhaseAssembling, model.PhaseDone,
	}, diag.Transitions)
	assert.Equal(t, model.PhaseDone, diag.Phase)
	assert.NotEmpty(t, diag.RunID)
	require.Len(t, diag.Tasks, 5)
	assert.True(t, diag.Tasks[0].FallbackUsed, "site_flood has no relevant pages")
	assert.Equal(t, []int{2}, diag.Tasks[1].Pages)
	// manifest plus five sub-agents
	assert.Equal(t, model.Usage{InputTokens: 10000, OutputTokens: 800}, diag.Usage)
}

func TestRunEnrichmentFailureKeepsAllChecks(t *testing.T) {
	t.Parallel()

	var prompts sync.Map
	client := scripted(map[string]handler{
		"subagent:foundation": func(req reasoning.Request) (reasoning.Response, error) {
			prompts.Store("foundation", req.Instruction)
			return answerAll(req)
		},
	})

	rep, diag, err := newPipeline(client).Run(context.Background(), nil, "plans.pdf", "")
	require.NoError(t, err)

	assert.Equal(t, catalog.TotalChecks, rep.Summary.TotalChecks)
	assert.False(t, diag.EnrichmentUsed)
	require.NotEmpty(t, diag.Errors)
	assert.Contains(t, diag.Errors[0], "enrichment")

	p, ok := prompts.Load("foundation")
	require.True(t, ok)
	assert.NotContains(t, p, "Pass/fail criteria")
}

func TestRunManifestFailureIsFatal(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var labels []string
	base := scripted(map[string]handler{
		"manifest": func(req reasoning.Request) (reasoning.Response, error) {
			return reasoning.Response{Text: "Sorry, I cannot read this document."}, nil
		},
	})
	client := reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
		mu.Lock()
		labels = append(labels, req.Label)
		mu.Unlock()
		return base.Infer(ctx, req)
	})

	obs := &recordingObserver{}
	rep, diag, err := newPipeline(client, WithObserver(obs)).Run(context.Background(), nil, "plans.pdf", "")
	require.ErrorIs(t, err, ErrManifest)
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)
	assert.Zero(t, rep.Summary.TotalChecks)
	assert.Equal(t, model.PhaseAborted, diag.Phase)
	assert.Equal(t, []model.Phase{model.PhaseStart, model.PhaseClassifying, model.PhaseAborted}, diag.Transitions)

	// enrichment ran to completion alongside the manifest, no sub-agent ran
	assert.ElementsMatch(t, []string{"manifest", "enrich"}, labels)
	assert.Equal(t, []string{OutcomeAborted}, obs.outcomes())
	assert.Equal(t, OutcomeAborted, diag.Outcome)
}

func TestRunDegradedAgentMarksOnlyItsChecks(t *testing.T) {
	t.Parallel()

	client := scripted(map[string]handler{
		"subagent:foundation": func(req reasoning.Request) (reasoning.Response, error) {
			return reasoning.Response{}, errors.New("rate limited")
		},
	})

	obs := &recordingObserver{}
	rep, diag, err := newPipeline(client, WithObserver(obs)).Run(context.Background(), nil, "plans.pdf", "")
	require.NoError(t, err)

	assert.Equal(t, catalog.TotalChecks, rep.Summary.TotalChecks)
	assert.Equal(t, 5, rep.Summary.NeedsVerification)
	assert.Equal(t, catalog.TotalChecks-5, rep.Summary.Passed)
	assert.Equal(t, model.StatusVerify, rep.OverallStatus)

	for _, c := range allChecks(rep) {
		if strings.HasPrefix(c.ID, "FND-") {
			assert.Equal(t, model.StatusVerify, c.Status)
			assert.Equal(t, subagent.DegradedFinding, c.Finding)
		} else {
			assert.Equal(t, model.StatusPass, c.Status, c.ID)
		}
	}

	assert.True(t, diag.Tasks[1].Degraded)
	assert.Contains(t, diag.Tasks[1].Error, "rate limited")
	joined := strings.Join(diag.Errors, "\n")
	assert.Contains(t, joined, "foundation: reasoning call: rate limited")
	assert.Equal(t, OutcomeDegraded, diag.Outcome)
	assert.Equal(t, []string{OutcomeDegraded}, obs.outcomes())
	assert.Equal(t, 1, obs.degradedTasks())
	assert.Equal(t, 1, obs.fallbacks())
}

func TestRunSubAgentsRunConcurrently(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	started.Add(5)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	waitForSiblings := func(req reasoning.Request) (reasoning.Response, error) {
		started.Done()
		select {
		case <-all:
			return answerAll(req)
		case <-time.After(5 * time.Second):
			return reasoning.Response{}, errors.New("sibling tasks did not start concurrently")
		}
	}
	overrides := map[string]handler{}
	for _, id := range model.AgentOrder {
		overrides["subagent:"+string(id)] = waitForSiblings
	}

	rep, diag, err := newPipeline(scripted(overrides)).Run(context.Background(), nil, "plans.pdf", "")
	require.NoError(t, err)
	for _, td := range diag.Tasks {
		assert.False(t, td.Degraded, "%s: %s", td.AgentID, td.Error)
	}
	assert.Equal(t, catalog.TotalChecks, rep.Summary.Passed)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := scripted(map[string]handler{
		"manifest": func(req reasoning.Request) (reasoning.Response, error) {
			cancel()
			return reasoning.Response{Text: threePages}, nil
		},
	})

	_, diag, err := newPipeline(client).Run(ctx, nil, "plans.pdf", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.PhaseAborted, diag.Phase)
	assert.NotContains(t, diag.Transitions, model.PhaseAnalyzing)
}

type recordingObserver struct {
	mu       sync.Mutex
	phases   []model.Phase
	degraded int
	fallback int
	runs     []string
}

func (o *recordingObserver) PhaseFinished(p model.Phase, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) TaskFinished(_ model.AgentID, degraded bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if degraded {
		o.degraded++
	}
}

func (o *recordingObserver) EnrichmentFallback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback++
}

func (o *recordingObserver) RunFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, outcome)
}

func (o *recordingObserver) outcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.runs...)
}

func (o *recordingObserver) degradedTasks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

func (o *recordingObserver) fallbacks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallback
}
