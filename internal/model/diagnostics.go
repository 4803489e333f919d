package model

import (
	"encoding/json"
	"time"
)

// Phase is a pipeline state.
type Phase string

// Pipeline phases in transition order.
const (
	PhaseStart       Phase = "start"
	PhaseClassifying Phase = "classifying"
	PhaseDecomposing Phase = "decomposing"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseAssembling  Phase = "assembling"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
)

// Timing holds per-phase wall-clock durations.
type Timing struct {
	Manifest   time.Duration `json:"manifestMs"`
	Enrichment time.Duration `json:"correctionParserMs"`
	Decompose  time.Duration `json:"taskDecomposerMs"`
	SubAgents  time.Duration `json:"subAgentsMs"`
	Total      time.Duration `json:"totalMs"`
}

// MarshalJSON encodes every duration as whole milliseconds.
func (t Timing) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Manifest   int64 `json:"manifestMs"`
		Enrichment int64 `json:"correctionParserMs"`
		Decompose  int64 `json:"taskDecomposerMs"`
		SubAgents  int64 `json:"subAgentsMs"`
		Total      int64 `json:"totalMs"`
	}{
		Manifest:   t.Manifest.Milliseconds(),
		Enrichment: t.Enrichment.Milliseconds(),
		Decompose:  t.Decompose.Milliseconds(),
		SubAgents:  t.SubAgents.Milliseconds(),
		Total:      t.Total.Milliseconds(),
	})
}

// TaskDiagnostic summarizes how one sub-agent task ran.
type TaskDiagnostic struct {
	AgentID      AgentID       `json:"agentId"`
	Pages        []int         `json:"pages"`
	FallbackUsed bool          `json:"fallbackPages"`
	Checks       int           `json:"checks"`
	Duration     time.Duration `json:"durationMs"`
	Degraded     bool          `json:"degraded"`
	Error        string        `json:"error,omitempty"`
	Usage        *Usage        `json:"tokensUsed,omitempty"`
}

// MarshalJSON encodes Duration as whole milliseconds.
func (d TaskDiagnostic) MarshalJSON() ([]byte, error) {
	type plain TaskDiagnostic
	return json.Marshal(struct {
		plain
		Duration int64 `json:"durationMs"`
	}{plain: plain(d), Duration: d.Duration.Milliseconds()})
}

// Diagnostics accompanies a report and records every non-fatal failure.
type Diagnostics struct {
	RunID          string           `json:"runId"`
	DocumentName   string           `json:"documentName"`
	Jurisdiction   string           `json:"jurisdiction,omitempty"`
	Outcome        string           `json:"outcome"`
	Phase          Phase            `json:"phase"`
	Transitions    []Phase          `json:"transitions"`
	Timing         Timing           `json:"timing"`
	Tasks          []TaskDiagnostic `json:"tasks,omitempty"`
	Errors         []string         `json:"errors"`
	EnrichmentUsed bool             `json:"enrichmentUsed"`
	Usage          Usage            `json:"usage"`
}

// Enter records a transition to p.
func (d *Diagnostics) Enter(p Phase) {
	d.Phase = p
	d.Transitions = append(d.Transitions, p)
}

// AddError records a non-fatal error string.
func (d *Diagnostics) AddError(msg string) {
	d.Errors = append(d.Errors, msg)
}
