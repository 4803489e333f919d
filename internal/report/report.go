// Package report merges sub-agent results into the final compliance report.
package report

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/metalagman/plancheck/internal/model"
)

const (
	sheetNumber = 1
	sheetType   = "Full Plan Set"
)

// MergeCategories combines same-key partial categories from all results.
// Checks are concatenated in result order, never overwritten, and each
// category status is recomputed. Output follows the canonical category order.
func MergeCategories(results []model.SubAgentResult) []model.CategoryResult {
	merged := make(map[model.CategoryKey]*model.CategoryResult)
	var extra []model.CategoryKey
	for _, r := range results {
		for _, c := range r.Categories {
			if m, ok := merged[c.Category]; ok {
				m.Checks = append(m.Checks, c.Checks...)
				continue
			}
			cp := c
			cp.Checks = slices.Clone(c.Checks)
			merged[c.Category] = &cp
			if !slices.Contains(model.CategoryOrder, c.Category) {
				extra = append(extra, c.Category)
			}
		}
	}
	slices.Sort(extra)

	out := make([]model.CategoryResult, 0, len(merged))
	for _, key := range append(slices.Clone(model.CategoryOrder), extra...) {
		m, ok := merged[key]
		if !ok {
			continue
		}
		m.OverallStatus = model.DeriveCategoryStatus(m.Checks)
		out = append(out, *m)
	}
	return out
}

// Assemble builds the report. The project name is the manifest address when
// present, otherwise the document file name without its .pdf extension.
func Assemble(results []model.SubAgentResult, m model.PageManifest, documentName string, now time.Time) model.ReportData {
	categories := MergeCategories(results)

	var summary model.Summary
	for _, c := range categories {
		for _, chk := range c.Checks {
			summary.Add(chk.Status)
		}
	}

	return model.ReportData{
		ProjectName: ProjectName(m, documentName),
		AnalyzedAt:  now.UTC(),
		TotalSheets: m.TotalPages,
		Sheets: []model.Sheet{{
			SheetNumber: sheetNumber,
			SheetType:   sheetType,
			Categories:  categories,
		}},
		Summary:       summary,
		OverallStatus: model.DeriveReportStatus(summary),
	}
}

// ProjectName returns the display name of a run.
func ProjectName(m model.PageManifest, documentName string) string {
	if addr := strings.TrimSpace(m.ProjectInfo.Address); addr != "" {
		return addr
	}
	name := filepath.Base(strings.TrimSpace(documentName))
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "." || name == "" {
		return "Untitled plan set"
	}
	return name
}
