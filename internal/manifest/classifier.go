// Package manifest classifies every page of a plan set once per run.
package manifest

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"text/template"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/pdfpages"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/repair"
	"github.com/rs/zerolog/log"
)

const defaultMaxTokens = 8192

//go:embed prompt.gotmpl
var promptTemplate string

var promptTmpl = template.Must(template.New("manifest").Parse(promptTemplate))

// ErrInvalidManifest is returned when the response is not a usable manifest.
var ErrInvalidManifest = errors.New("invalid page manifest")

// Option configures a Classifier.
type Option func(*Classifier)

// WithParser sets the JSON repair parser.
func WithParser(p *repair.Parser) Option {
	return func(c *Classifier) { c.parser = p }
}

// WithExtractor lets the document's own page count override the model's.
func WithExtractor(x pdfpages.Extractor) Option {
	return func(c *Classifier) { c.extractor = x }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// Classifier builds a PageManifest with one reasoning call.
type Classifier struct {
	client    reasoning.Client
	parser    *repair.Parser
	extractor pdfpages.Extractor
	maxTokens int
}

// NewClassifier returns a Classifier using client.
func NewClassifier(client reasoning.Client, opts ...Option) *Classifier {
	c := &Classifier{client: client, parser: repair.New(), maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Prompt returns the classification instruction.
func Prompt() (string, error) {
	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, struct{ PageTypes []model.PageType }{model.PageTypes}); err != nil {
		return "", fmt.Errorf("execute manifest prompt template: %w", err)
	}
	return buf.String(), nil
}

// Classify returns the normalized manifest for doc, and the usage of the call.
func (c *Classifier) Classify(ctx context.Context, doc []byte) (model.PageManifest, model.Usage, error) {
	prompt, err := Prompt()
	if err != nil {
		return model.PageManifest{}, model.Usage{}, err
	}

	resp, err := c.client.Infer(ctx, reasoning.Request{
		Label:        "manifest",
		Document:     doc,
		DocumentMIME: reasoning.MimePDF,
		Instruction:  prompt,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return model.PageManifest{}, resp.Usage, fmt.Errorf("classify pages: %w", err)
	}

	var raw rawManifest
	if err := c.parser.Decode(resp.Text, &raw); err != nil {
		return model.PageManifest{}, resp.Usage, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	pageCount := 0
	if c.extractor != nil {
		n, err := c.extractor.PageCount(doc)
		if err != nil {
			log.Warn().Err(err).Msg("could not read page count from document, using classifier total")
		} else {
			pageCount = n
		}
	}

	m, err := normalize(raw, pageCount)
	if err != nil {
		return model.PageManifest{}, resp.Usage, err
	}

	for _, p := range m.Pages {
		log.Debug().
			Int("page", p.PageNumber).
			Interface("types", p.PageTypes).
			Str("label", p.SheetLabel).
			Float64("confidence", p.Confidence).
			Msg("manifest page")
	}
	log.Info().Int("total_pages", m.TotalPages).Str("address", m.ProjectInfo.Address).Msg("manifest classified")
	return m, resp.Usage, nil
}
