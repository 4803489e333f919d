package report

import (
	"fmt"
	"strings"

	"github.com/metalagman/plancheck/internal/model"
)

// Markdown renders the report for terminals and chat surfaces.
func Markdown(r model.ReportData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", escape(r.ProjectName))
	fmt.Fprintf(&b, "**Overall: %s** · analyzed %s · %d page(s)\n\n",
		r.OverallStatus, r.AnalyzedAt.Format("2006-01-02 15:04 MST"), r.TotalSheets)

	s := r.Summary
	b.WriteString("| Checks | Pass | Fail | Verify | N/A |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n", s.TotalChecks, s.Passed, s.Failed, s.NeedsVerification, s.NotApplicable)

	for _, sheet := range r.Sheets {
		for _, c := range sheet.Categories {
			fmt.Fprintf(&b, "\n## %s: %s\n\n", escape(c.Name), c.OverallStatus)
			if c.CodeReference != "" {
				fmt.Fprintf(&b, "_%s_\n\n", escape(c.CodeReference))
			}
			b.WriteString("| ID | Status | Requirement | Finding |\n")
			b.WriteString("|---|---|---|---|\n")
			for _, chk := range c.Checks {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
					chk.ID, statusCell(chk.Status), cell(chk.Description), cell(chk.Finding))
			}
		}
	}
	return b.String()
}

// AnnotationsMarkdown renders plan markers as a table ordered as given.
func AnnotationsMarkdown(anns []model.Annotation) string {
	var b strings.Builder
	b.WriteString("\n## Plan markers\n\n")
	if len(anns) == 0 {
		b.WriteString("No findings could be placed on the plans.\n")
		return b.String()
	}
	b.WriteString("| Page | Position | ID | Status | Label | Detail |\n")
	b.WriteString("|---:|---|---|---|---|---|\n")
	for _, a := range anns {
		pos := fmt.Sprintf("%.0f%%, %.0f%%", a.X, a.Y)
		if a.Approximate {
			pos = "~" + pos
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			a.Page, pos, a.CheckID, statusCell(a.Type), cell(a.Label), cell(a.Detail))
	}
	return b.String()
}

func statusCell(s model.CheckStatus) string {
	if s == model.StatusFail {
		return "**FAIL**"
	}
	return string(s)
}

func escape(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "#", `\#`).Replace(s)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
