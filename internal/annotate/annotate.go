// Package annotate places review findings on the plan pages where the
// related building element is drawn.
package annotate

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/repair"
	"github.com/rs/zerolog/log"
)

const defaultMaxTokens = 16384

//go:embed prompt.gotmpl
var promptTemplate string

var promptTmpl = template.Must(template.New("annotate").Parse(promptTemplate))

// ErrInvalidAnnotations is returned when the response cannot be decoded.
var ErrInvalidAnnotations = errors.New("invalid annotations")

// Option configures an Annotator.
type Option func(*Annotator)

// WithParser sets the JSON repair parser.
func WithParser(p *repair.Parser) Option {
	return func(a *Annotator) { a.parser = p }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(a *Annotator) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// Annotator locates findings with one document call. It is safe for
// concurrent use.
type Annotator struct {
	client    reasoning.Client
	parser    *repair.Parser
	maxTokens int
}

// NewAnnotator returns an Annotator using client.
func NewAnnotator(client reasoning.Client, opts ...Option) *Annotator {
	a := &Annotator{client: client, parser: repair.New(), maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Finding is a check result that gets a marker.
type Finding struct {
	ID            string            `json:"id"`
	Category      model.CategoryKey `json:"category"`
	CategoryName  string            `json:"categoryName"`
	Status        model.CheckStatus `json:"status"`
	Description   string            `json:"description"`
	Finding       string            `json:"finding"`
	CodeReference string            `json:"codeReference"`
}

// Findings lists the checks of rep in report order, skipping N/A checks.
// A check id is listed once.
func Findings(rep model.ReportData) []Finding {
	var out []Finding
	seen := make(map[string]bool)
	for _, sheet := range rep.Sheets {
		for _, c := range sheet.Categories {
			for _, chk := range c.Checks {
				if chk.Status == model.StatusNotApplicable || chk.ID == "" || seen[chk.ID] {
					continue
				}
				seen[chk.ID] = true
				out = append(out, Finding{
					ID:            chk.ID,
					Category:      c.Category,
					CategoryName:  c.Name,
					Status:        chk.Status,
					Description:   chk.Description,
					Finding:       chk.Finding,
					CodeReference: chk.CodeReference,
				})
			}
		}
	}
	return out
}

// Prompt renders the placement instruction for findings.
func Prompt(findings []Finding, totalPages int) (string, error) {
	list, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode findings: %w", err)
	}
	data := struct {
		Findings   string
		TotalPages int
	}{Findings: string(list), TotalPages: totalPages}

	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute annotate prompt template: %w", err)
	}
	return buf.String(), nil
}

// Annotate returns one marker per located finding of rep on doc, in report
// order, and the usage of the call. A report without findings needs no call.
func (a *Annotator) Annotate(ctx context.Context, doc []byte, rep model.ReportData) ([]model.Annotation, model.Usage, error) {
	findings := Findings(rep)
	if len(findings) == 0 {
		return []model.Annotation{}, model.Usage{}, nil
	}
	if len(doc) == 0 {
		return nil, model.Usage{}, fmt.Errorf("annotate findings: document is empty")
	}

	prompt, err := Prompt(findings, rep.TotalSheets)
	if err != nil {
		return nil, model.Usage{}, err
	}
	resp, err := a.client.Infer(ctx, reasoning.Request{
		Label:        "annotate",
		Document:     doc,
		DocumentMIME: reasoning.MimePDF,
		Instruction:  prompt,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("annotate findings: %w", err)
	}

	var raw rawResponse
	if err := a.parser.Decode(resp.Text, &raw); err != nil {
		return nil, resp.Usage, fmt.Errorf("%w: %w", ErrInvalidAnnotations, err)
	}
	out, dropped := normalize(raw, findings, rep.TotalSheets)

	log.Info().
		Int("findings", len(findings)).
		Int("placed", len(out)).
		Int("dropped", dropped).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Msg("annotations placed")
	return out, resp.Usage, nil
}
