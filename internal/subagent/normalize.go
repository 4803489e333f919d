package subagent

import (
	"errors"
	"slices"
	"strings"

	"github.com/metalagman/plancheck/internal/model"
)

// ErrNoResults is returned when a response carries no check results.
var ErrNoResults = errors.New("response contained no check results")

type rawCheck struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Finding string `json:"finding"`
}

type rawCategory struct {
	Category string     `json:"category"`
	Checks   []rawCheck `json:"checks"`
}

type rawResponse struct {
	Categories []rawCategory `json:"categories"`
	// Checks tolerates a flat list without category grouping.
	Checks []rawCheck `json:"checks"`
}

// categoryInfo supplies display fields for a category key.
type categoryInfo func(model.CategoryKey) (name, code string)

// normalize maps a response onto the task's checks. Every task check appears
// exactly once, in task order, grouped by category in the task's key order.
// Results for ids outside the task are ignored and the first result for an id
// wins. It returns the ids the response did not cover.
func normalize(raw rawResponse, task model.SubAgentTask, info categoryInfo) ([]model.CategoryResult, []string, error) {
	byID := make(map[string]rawCheck)
	collect := func(checks []rawCheck) {
		for _, c := range checks {
			id := strings.ToUpper(strings.TrimSpace(c.ID))
			if id == "" {
				continue
			}
			if _, dup := byID[id]; !dup {
				byID[id] = c
			}
		}
	}
	for _, cat := range raw.Categories {
		collect(cat.Checks)
	}
	collect(raw.Checks)
	if len(byID) == 0 {
		return nil, nil, ErrNoResults
	}

	var missing []string
	results := make([]model.CheckResult, 0, len(task.Checks))
	for _, chk := range task.Checks {
		res := model.CheckResult{
			ID:            chk.ID,
			Description:   chk.Description,
			CodeReference: chk.CodeReference,
			Status:        model.StatusVerify,
		}
		rc, ok := byID[strings.ToUpper(chk.ID)]
		if ok {
			res.Status, _ = model.ParseCheckStatus(rc.Status)
			res.Finding = strings.TrimSpace(rc.Finding)
		} else {
			missing = append(missing, chk.ID)
		}
		results = append(results, res)
	}
	return group(task, results, info), missing, nil
}

// degrade builds the error-path result: every task check VERIFY with the
// fixed finding.
func degrade(task model.SubAgentTask, info categoryInfo) []model.CategoryResult {
	results := make([]model.CheckResult, 0, len(task.Checks))
	for _, chk := range task.Checks {
		results = append(results, model.CheckResult{
			ID:            chk.ID,
			Description:   chk.Description,
			CodeReference: chk.CodeReference,
			Status:        model.StatusVerify,
			Finding:       DegradedFinding,
		})
	}
	return group(task, results, info)
}

// group splits results, which parallel task.Checks, into category results.
func group(task model.SubAgentTask, results []model.CheckResult, info categoryInfo) []model.CategoryResult {
	fallbackKey := model.CategoryKey("")
	if len(task.CategoryKeys) > 0 {
		fallbackKey = task.CategoryKeys[0]
	}

	byKey := make(map[model.CategoryKey][]model.CheckResult, len(task.CategoryKeys))
	order := append([]model.CategoryKey(nil), task.CategoryKeys...)
	for i, chk := range task.Checks {
		key := chk.Category
		if key == "" {
			key = fallbackKey
		}
		if _, known := byKey[key]; !known && !slices.Contains(order, key) {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], results[i])
	}

	out := make([]model.CategoryResult, 0, len(order))
	for _, key := range order {
		checks := byKey[key]
		if len(checks) == 0 {
			continue
		}
		name, code := info(key)
		out = append(out, model.CategoryResult{
			Category:      key,
			Name:          name,
			CodeReference: code,
			OverallStatus: model.DeriveCategoryStatus(checks),
			Checks:        checks,
		})
	}
	return out
}
