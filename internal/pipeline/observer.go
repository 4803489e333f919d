package pipeline

import (
	"time"

	"github.com/metalagman/plancheck/internal/model"
)

// Run outcomes reported to observers.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeAborted  = "aborted"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use; task events arrive from parallel goroutines.
type Observer interface {
	PhaseFinished(phase model.Phase, d time.Duration)
	TaskFinished(agentID model.AgentID, degraded bool, d time.Duration)
	EnrichmentFallback()
	RunFinished(outcome string, d time.Duration)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PhaseFinished(model.Phase, time.Duration)        {}
func (NopObserver) TaskFinished(model.AgentID, bool, time.Duration) {}
func (NopObserver) EnrichmentFallback()                             {}
func (NopObserver) RunFinished(string, time.Duration)               {}
