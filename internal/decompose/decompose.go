// Package decompose splits an enriched catalog into sub-agent tasks.
package decompose

import (
	"slices"

	"github.com/metalagman/plancheck/internal/model"
)

// Decompose returns exactly one task per route, in route order.
//
// A task holds the checks of its categories, restricted to the route's check
// ids when set, in category then check order. Its relevant pages are the
// manifest pages carrying any of the route's page types, sorted and unique.
// When none match, FallbackPages lists every page of the document.
// Decompose is pure.
func Decompose(m model.PageManifest, categories []model.EnrichedCategory, routes []model.AgentRoute) []model.SubAgentTask {
	byKey := make(map[model.CategoryKey]model.EnrichedCategory, len(categories))
	for _, c := range categories {
		byKey[c.Key] = c
	}

	tasks := make([]model.SubAgentTask, 0, len(routes))
	for _, r := range routes {
		task := model.SubAgentTask{
			AgentID:       r.ID,
			CategoryKeys:  slices.Clone(r.Categories),
			Checks:        selectChecks(r, byKey),
			RelevantPages: relevantPages(m, r.PageTypes),
		}
		if len(task.RelevantPages) == 0 {
			task.FallbackPages = allPages(m.TotalPages)
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func selectChecks(r model.AgentRoute, byKey map[model.CategoryKey]model.EnrichedCategory) []model.EnrichedCheck {
	var allow map[string]bool
	if len(r.CheckIDs) > 0 {
		allow = make(map[string]bool, len(r.CheckIDs))
		for _, id := range r.CheckIDs {
			allow[id] = true
		}
	}

	var out []model.EnrichedCheck
	for _, key := range r.Categories {
		for _, chk := range byKey[key].Checks {
			if allow != nil && !allow[chk.ID] {
				continue
			}
			if chk.Category == "" {
				chk.Category = key
			}
			out = append(out, chk)
		}
	}
	return out
}

func relevantPages(m model.PageManifest, types []model.PageType) []int {
	var pages []int
	for _, p := range m.Pages {
		if p.PageNumber < 1 || p.PageNumber > m.TotalPages {
			continue
		}
		if p.HasAnyType(types) {
			pages = append(pages, p.PageNumber)
		}
	}
	slices.Sort(pages)
	return slices.Compact(pages)
}

func allPages(total int) []int {
	out := make([]int, 0, max(total, 0))
	for n := 1; n <= total; n++ {
		out = append(out, n)
	}
	return out
}
