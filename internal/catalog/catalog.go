// Package catalog holds the static compliance checklist and the sub-agent routes.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/metalagman/plancheck/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// ErrInvalidCatalog is returned when the catalog document fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// expectedCounts is the number of checks each category must carry.
var expectedCounts = map[model.CategoryKey]int{
	model.CategorySitePlan:          2,
	model.CategoryFlood:             1,
	model.CategoryFoundation:        5,
	model.CategoryFloorPlan:         17,
	model.CategoryElevationsDetails: 17,
}

// TotalChecks is the size of the checklist.
const TotalChecks = 42

type document struct {
	Version    string        `yaml:"version"`
	Categories []categoryDoc `yaml:"categories"`
	Agents     []agentDoc    `yaml:"agents"`
}

type categoryDoc struct {
	Key    model.CategoryKey       `yaml:"key"`
	Name   string                  `yaml:"name"`
	Code   string                  `yaml:"code"`
	Checks []model.CheckDefinition `yaml:"checks"`
}

type agentDoc struct {
	ID         model.AgentID       `yaml:"id"`
	Categories []model.CategoryKey `yaml:"categories"`
	PageTypes  []model.PageType    `yaml:"page_types"`
	Checks     *checkRange         `yaml:"checks,omitempty"`
}

type checkRange struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Category is one catalog section.
type Category struct {
	Key           model.CategoryKey
	Name          string
	CodeReference string
	Checks        []model.CheckDefinition
}

// Catalog is the validated checklist. It is read-only after construction.
type Catalog struct {
	version    string
	categories []Category
	byKey      map[model.CategoryKey]int
	byID       map[string]model.CheckDefinition
	agents     []model.AgentRoute
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Load returns the embedded catalog, parsed and validated once per process.
func Load() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(embedded)
	})
	return defaultCat, defaultErr
}

// MustLoad is Load that panics on an invalid embedded catalog.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Raw returns the embedded catalog document.
func Raw() []byte {
	out := make([]byte, len(embedded))
	copy(out, embedded)
	return out
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	if strings.TrimSpace(doc.Version) == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}
	if len(doc.Categories) != len(model.CategoryOrder) {
		return nil, fmt.Errorf("%w: expected %d categories, got %d", ErrInvalidCatalog, len(model.CategoryOrder), len(doc.Categories))
	}

	c := &Catalog{
		version: doc.Version,
		byKey:   make(map[model.CategoryKey]int, len(doc.Categories)),
		byID:    make(map[string]model.CheckDefinition, TotalChecks),
	}
	order := make(map[string]int, TotalChecks)

	for i, cd := range doc.Categories {
		if cd.Key != model.CategoryOrder[i] {
			return nil, fmt.Errorf("%w: category %d is %q, expected %q", ErrInvalidCatalog, i, cd.Key, model.CategoryOrder[i])
		}
		if cd.Name == "" || cd.Code == "" {
			return nil, fmt.Errorf("%w: category %q needs name and code", ErrInvalidCatalog, cd.Key)
		}
		if want := expectedCounts[cd.Key]; len(cd.Checks) != want {
			return nil, fmt.Errorf("%w: category %q has %d checks, expected %d", ErrInvalidCatalog, cd.Key, len(cd.Checks), want)
		}
		cat := Category{Key: cd.Key, Name: cd.Name, CodeReference: cd.Code}
		for _, chk := range cd.Checks {
			if chk.ID == "" || strings.TrimSpace(chk.Description) == "" || strings.TrimSpace(chk.CodeReference) == "" {
				return nil, fmt.Errorf("%w: check %q in %q is incomplete", ErrInvalidCatalog, chk.ID, cd.Key)
			}
			if _, dup := c.byID[chk.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate check id %q", ErrInvalidCatalog, chk.ID)
			}
			chk.Category = cd.Key
			order[chk.ID] = len(cat.Checks)
			c.byID[chk.ID] = chk
			cat.Checks = append(cat.Checks, chk)
		}
		c.byKey[cd.Key] = i
		c.categories = append(c.categories, cat)
	}

	agents, err := c.resolveAgents(doc.Agents, order)
	if err != nil {
		return nil, err
	}
	c.agents = agents
	return c, nil
}

func (c *Catalog) resolveAgents(docs []agentDoc, order map[string]int) ([]model.AgentRoute, error) {
	if len(docs) != len(model.AgentOrder) {
		return nil, fmt.Errorf("%w: expected %d agents, got %d", ErrInvalidCatalog, len(model.AgentOrder), len(docs))
	}
	covered := make(map[string]model.AgentID, TotalChecks)
	routes := make([]model.AgentRoute, 0, len(docs))

	for i, ad := range docs {
		if ad.ID != model.AgentOrder[i] {
			return nil, fmt.Errorf("%w: agent %d is %q, expected %q", ErrInvalidCatalog, i, ad.ID, model.AgentOrder[i])
		}
		if len(ad.Categories) == 0 {
			return nil, fmt.Errorf("%w: agent %q has no categories", ErrInvalidCatalog, ad.ID)
		}
		for _, pt := range ad.PageTypes {
			if !pt.Valid() {
				return nil, fmt.Errorf("%w: agent %q targets unknown page type %q", ErrInvalidCatalog, ad.ID, pt)
			}
		}

		route := model.AgentRoute{ID: ad.ID, Categories: ad.Categories, PageTypes: ad.PageTypes}
		var ids []string
		if ad.Checks != nil {
			if len(ad.Categories) != 1 {
				return nil, fmt.Errorf("%w: agent %q check range needs exactly one category", ErrInvalidCatalog, ad.ID)
			}
			r, err := c.resolveRange(ad.Categories[0], *ad.Checks, order)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", ad.ID, err)
			}
			route.CheckIDs = r
			ids = r
		} else {
			for _, key := range ad.Categories {
				cat, ok := c.Category(key)
				if !ok {
					return nil, fmt.Errorf("%w: agent %q references unknown category %q", ErrInvalidCatalog, ad.ID, key)
				}
				for _, chk := range cat.Checks {
					ids = append(ids, chk.ID)
				}
			}
		}

		for _, id := range ids {
			if owner, dup := covered[id]; dup {
				return nil, fmt.Errorf("%w: check %q routed to both %q and %q", ErrInvalidCatalog, id, owner, ad.ID)
			}
			covered[id] = ad.ID
		}
		routes = append(routes, route)
	}

	if len(covered) != len(c.byID) {
		for _, cat := range c.categories {
			for _, chk := range cat.Checks {
				if _, ok := covered[chk.ID]; !ok {
					return nil, fmt.Errorf("%w: check %q is not routed to any agent", ErrInvalidCatalog, chk.ID)
				}
			}
		}
	}
	return routes, nil
}

func (c *Catalog) resolveRange(key model.CategoryKey, r checkRange, order map[string]int) ([]string, error) {
	cat, ok := c.Category(key)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidCatalog, key)
	}
	from, okFrom := c.byID[r.From]
	to, okTo := c.byID[r.To]
	if !okFrom || !okTo || from.Category != key || to.Category != key {
		return nil, fmt.Errorf("%w: range %s..%s is outside category %q", ErrInvalidCatalog, r.From, r.To, key)
	}
	lo, hi := order[r.From], order[r.To]
	if lo > hi {
		return nil, fmt.Errorf("%w: range %s..%s is reversed", ErrInvalidCatalog, r.From, r.To)
	}
	ids := make([]string, 0, hi-lo+1)
	for _, chk := range cat.Checks[lo : hi+1] {
		ids = append(ids, chk.ID)
	}
	return ids, nil
}

// Version returns the catalog document version.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of checks.
func (c *Catalog) Len() int { return len(c.byID) }

// Category returns the section with the given key.
func (c *Catalog) Category(key model.CategoryKey) (Category, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Check returns the definition with the given id.
func (c *Catalog) Check(id string) (model.CheckDefinition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Agents returns the sub-agent routes in decomposition order.
func (c *Catalog) Agents() []model.AgentRoute {
	out := make([]model.AgentRoute, len(c.agents))
	copy(out, c.agents)
	return out
}

// Categories returns the unenriched catalog in canonical order.
// It is the fallback when enrichment is unavailable.
func (c *Catalog) Categories() []model.EnrichedCategory {
	out := make([]model.EnrichedCategory, 0, len(c.categories))
	for _, cat := range c.categories {
		ec := model.EnrichedCategory{
			Key:           cat.Key,
			Name:          cat.Name,
			CodeReference: cat.CodeReference,
			Checks:        make([]model.EnrichedCheck, 0, len(cat.Checks)),
		}
		for _, chk := range cat.Checks {
			ec.Checks = append(ec.Checks, model.EnrichedCheck{CheckDefinition: chk})
		}
		out = append(out, ec)
	}
	return out
}
