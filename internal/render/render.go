// Package render formats reports for the command line.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/report"
)

// Format names an output format.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatSummary  Format = "summary"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatMarkdown, FormatSummary}

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want json, markdown or summary)", s)
}

// Options control terminal styling.
type Options struct {
	// Styled enables ANSI styling; set it only when writing to a terminal.
	Styled bool
	// Width is the word wrap width for styled markdown.
	Width int
}

// Output is one rendered result.
type Output struct {
	Report model.ReportData
	// Diagnostics is included in JSON output when non-nil.
	Diagnostics *model.Diagnostics
	// Annotations are included when non-nil.
	Annotations []model.Annotation
}

// Render writes out in format f.
func Render(w io.Writer, out Output, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		payload := struct {
			Report      model.ReportData   `json:"report"`
			Diagnostics *model.Diagnostics `json:"diagnostics,omitempty"`
			Annotations []model.Annotation `json:"annotations,omitempty"`
		}{Report: out.Report, Diagnostics: out.Diagnostics, Annotations: out.Annotations}
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	case FormatMarkdown:
		md := report.Markdown(out.Report)
		if out.Annotations != nil {
			md += report.AnnotationsMarkdown(out.Annotations)
		}
		if opts.Styled {
			styled, err := styleMarkdown(md, opts.Width)
			if err != nil {
				return err
			}
			md = styled
		}
		_, err := io.WriteString(w, md)
		return err
	case FormatSummary:
		line := Summary(out.Report, out.Diagnostics, opts.Styled)
		if out.Annotations != nil {
			line += fmt.Sprintf("\n%d plan marker(s) placed", len(out.Annotations))
		}
		_, err := io.WriteString(w, line+"\n")
		return err
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

func styleMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

var (
	statusColors = map[model.CheckStatus]lipgloss.Color{
		model.StatusPass:          lipgloss.Color("10"),
		model.StatusFail:          lipgloss.Color("9"),
		model.StatusVerify:        lipgloss.Color("11"),
		model.StatusNotApplicable: lipgloss.Color("8"),
	}
	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Badge returns the status, colored when styled.
func Badge(s model.CheckStatus, styled bool) string {
	if !styled {
		return string(s)
	}
	return lipgloss.NewStyle().Bold(true).Foreground(statusColors[s]).Render(string(s))
}

// Summary returns a one-line overview followed by any failing check ids.
func Summary(rep model.ReportData, diag *model.Diagnostics, styled bool) string {
	label := func(s string) string {
		if styled {
			return labelStyle.Render(s)
		}
		return s
	}
	s := rep.Summary
	line := fmt.Sprintf("%s %s  %s  %d checks: %d pass, %d fail, %d verify, %d n/a",
		label("Overall:"), Badge(rep.OverallStatus, styled), rep.ProjectName,
		s.TotalChecks, s.Passed, s.Failed, s.NeedsVerification, s.NotApplicable)

	var failed []string
	for _, sheet := range rep.Sheets {
		for _, c := range sheet.Categories {
			for _, chk := range c.Checks {
				if chk.Status == model.StatusFail {
					failed = append(failed, chk.ID)
				}
			}
		}
	}
	if len(failed) > 0 {
		line += "\n" + label("Failed:") + " " + strings.Join(failed, ", ")
	}
	if diag != nil && len(diag.Errors) > 0 {
		note := fmt.Sprintf("%d non-fatal error(s) in run %s", len(diag.Errors), diag.RunID)
		if styled {
			note = dimStyle.Render(note)
		}
		line += "\n" + note
	}
	return line
}
