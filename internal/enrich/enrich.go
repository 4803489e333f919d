// Package enrich augments the static checklist with reviewer guidance.
package enrich

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/metalagman/plancheck/internal/repair"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxTokens = 12288

	maxCriteria = 5
	maxFailures = 3
)

//go:embed prompt.gotmpl
var promptTemplate string

var promptTmpl = template.Must(template.New("enrich").Parse(promptTemplate))

// ErrInvalidEnrichment is returned when the response does not cover the catalog.
var ErrInvalidEnrichment = errors.New("invalid enrichment")

// Option configures an Enricher.
type Option func(*Enricher)

// WithParser sets the JSON repair parser.
func WithParser(p *repair.Parser) Option {
	return func(e *Enricher) { e.parser = p }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithCache keeps up to size successful enrichments per jurisdiction for ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Enricher) {
		if size > 0 {
			e.cache = expirable.NewLRU[string, []model.EnrichedCategory](size, nil, ttl)
		}
	}
}

// Enricher produces the enriched catalog with one text-only reasoning call.
type Enricher struct {
	client    reasoning.Client
	catalog   *catalog.Catalog
	parser    *repair.Parser
	maxTokens int
	cache     *expirable.LRU[string, []model.EnrichedCategory]
}

// NewEnricher returns an Enricher over cat.
func NewEnricher(client reasoning.Client, cat *catalog.Catalog, opts ...Option) *Enricher {
	e := &Enricher{client: client, catalog: cat, parser: repair.New(), maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Prompt returns the enrichment instruction for jurisdiction, which may be empty.
func (e *Enricher) Prompt(jurisdiction string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Total        int
		Jurisdiction string
		Categories   []model.EnrichedCategory
	}{
		Total:        e.catalog.Len(),
		Jurisdiction: strings.TrimSpace(jurisdiction),
		Categories:   e.catalog.Categories(),
	}
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute enrich prompt template: %w", err)
	}
	return buf.String(), nil
}

// Enrich returns the catalog with enrichment fields populated. The catalog
// stays authoritative for ids, descriptions and code references.
// Results are read-only; they may be shared through the cache.
func (e *Enricher) Enrich(ctx context.Context, jurisdiction string) ([]model.EnrichedCategory, model.Usage, error) {
	key := cacheKey(jurisdiction)
	if e.cache != nil {
		if cats, ok := e.cache.Get(key); ok {
			log.Debug().Str("jurisdiction", key).Msg("enrichment cache hit")
			return cats, model.Usage{}, nil
		}
	}

	prompt, err := e.Prompt(jurisdiction)
	if err != nil {
		return nil, model.Usage{}, err
	}
	resp, err := e.client.Infer(ctx, reasoning.Request{
		Label:       "enrich",
		Instruction: prompt,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("enrich checks: %w", err)
	}

	var raw rawResponse
	if err := e.parser.Decode(resp.Text, &raw); err != nil {
		return nil, resp.Usage, fmt.Errorf("%w: %w", ErrInvalidEnrichment, err)
	}
	cats, err := overlay(e.catalog, raw)
	if err != nil {
		return nil, resp.Usage, err
	}

	if e.cache != nil {
		e.cache.Add(key, cats)
	}
	return cats, resp.Usage, nil
}

// EnrichOrFallback is Enrich that returns the unenriched catalog on failure.
// The error is still returned so callers can record it.
func (e *Enricher) EnrichOrFallback(ctx context.Context, jurisdiction string) ([]model.EnrichedCategory, model.Usage, error) {
	cats, usage, err := e.Enrich(ctx, jurisdiction)
	if err != nil {
		log.Warn().Err(err).Msg("check enrichment failed, using base catalog")
		return e.catalog.Categories(), usage, err
	}
	return cats, usage, nil
}

func cacheKey(jurisdiction string) string {
	return strings.ToLower(strings.Join(strings.Fields(jurisdiction), " "))
}

type rawCheck struct {
	ID                  string   `json:"id"`
	SpecificCriteria    []string `json:"specificCriteria"`
	CommonFailures      []string `json:"commonFailures"`
	JurisdictionContext string   `json:"jurisdictionContext"`
	CountyContext       string   `json:"countyContext"`
}

type rawCategory struct {
	CategoryKey model.CategoryKey `json:"categoryKey"`
	Checks      []rawCheck        `json:"checks"`
}

type rawResponse struct {
	Categories []rawCategory `json:"categories"`
}

func overlay(cat *catalog.Catalog, raw rawResponse) ([]model.EnrichedCategory, error) {
	if len(raw.Categories) == 0 {
		return nil, fmt.Errorf("%w: missing categories array", ErrInvalidEnrichment)
	}

	keys := make(map[model.CategoryKey]bool, len(raw.Categories))
	byID := make(map[string]rawCheck, cat.Len())
	for _, rc := range raw.Categories {
		keys[rc.CategoryKey] = true
		for _, chk := range rc.Checks {
			id := strings.TrimSpace(chk.ID)
			if _, dup := byID[id]; !dup {
				byID[id] = chk
			}
		}
	}

	var missingKeys []string
	for _, k := range model.CategoryOrder {
		if !keys[k] {
			missingKeys = append(missingKeys, string(k))
		}
	}
	if len(missingKeys) > 0 {
		return nil, fmt.Errorf("%w: missing categories %s", ErrInvalidEnrichment, strings.Join(missingKeys, ", "))
	}

	out := cat.Categories()
	var missing []string
	for ci := range out {
		for i := range out[ci].Checks {
			chk := &out[ci].Checks[i]
			rc, ok := byID[chk.ID]
			if !ok {
				missing = append(missing, chk.ID)
				continue
			}
			chk.SpecificCriteria = clean(rc.SpecificCriteria, maxCriteria)
			chk.CommonFailures = clean(rc.CommonFailures, maxFailures)
			chk.JurisdictionContext = strings.TrimSpace(rc.JurisdictionContext)
			if chk.JurisdictionContext == "" {
				chk.JurisdictionContext = strings.TrimSpace(rc.CountyContext)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %d checks missing (%s)", ErrInvalidEnrichment, len(missing), strings.Join(missing, ", "))
	}
	return out, nil
}

func clean(items []string, limit int) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}
