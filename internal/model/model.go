// Package model defines the records exchanged between pipeline stages.
package model

import (
	"strings"
	"time"
)

// PageType classifies a plan sheet.
type PageType string

// Page types the manifest classifier may emit.
const (
	PageSitePlan          PageType = "site_plan"
	PageFoundation        PageType = "foundation"
	PageFloorPlan         PageType = "floor_plan"
	PageElevation         PageType = "elevation"
	PageRoofFraming       PageType = "roof_framing"
	PageElectrical        PageType = "electrical"
	PagePlumbing          PageType = "plumbing"
	PageMechanical        PageType = "mechanical"
	PageStructuralDetails PageType = "structural_details"
	PageWallSections      PageType = "wall_sections"
	PageWindowDetails     PageType = "window_details"
	PageDoorSchedule      PageType = "door_schedule"
	PageGeneralNotes      PageType = "general_notes"
	PageCoverSheet        PageType = "cover_sheet"
	PageUnknown           PageType = "unknown"
)

// PageTypes lists every valid page type in prompt order.
var PageTypes = []PageType{
	PageSitePlan, PageFoundation, PageFloorPlan, PageElevation, PageRoofFraming,
	PageElectrical, PagePlumbing, PageMechanical, PageStructuralDetails, PageWallSections,
	PageWindowDetails, PageDoorSchedule, PageGeneralNotes, PageCoverSheet, PageUnknown,
}

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	for _, pt := range PageTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// PageManifestEntry describes one classified page.
type PageManifestEntry struct {
	PageNumber   int        `json:"pageNumber"`
	PageTypes    []PageType `json:"pageTypes"`
	SheetLabel   string     `json:"sheetLabel,omitempty"`
	SheetTitle   string     `json:"sheetTitle,omitempty"`
	Elements     []string   `json:"elements"`
	HasSchedules bool       `json:"hasSchedules"`
	HasNotes     bool       `json:"hasNotes"`
	Confidence   float64    `json:"confidence"`
}

// HasAnyType reports whether the entry carries at least one of types.
func (e PageManifestEntry) HasAnyType(types []PageType) bool {
	for _, have := range e.PageTypes {
		for _, want := range types {
			if have == want {
				return true
			}
		}
	}
	return false
}

// ProjectInfo is optional whole-document metadata.
type ProjectInfo struct {
	Address     string `json:"address,omitempty"`
	Designer    string `json:"designer,omitempty"`
	Date        string `json:"date,omitempty"`
	CodeEdition string `json:"codeEdition,omitempty"`
}

// PageManifest is the per-page index produced once per run.
// Pages are ordered and numbered exactly 1..TotalPages.
type PageManifest struct {
	TotalPages  int                 `json:"totalPages"`
	ProjectInfo ProjectInfo         `json:"projectInfo"`
	Pages       []PageManifestEntry `json:"pages"`
}

// PageNumbers returns every page number in manifest order.
func (m PageManifest) PageNumbers() []int {
	out := make([]int, 0, len(m.Pages))
	for _, p := range m.Pages {
		out = append(out, p.PageNumber)
	}
	return out
}

// CategoryKey identifies one of the five compliance categories.
type CategoryKey string

// Category keys in canonical report order.
const (
	CategorySitePlan          CategoryKey = "site_plan"
	CategoryFlood             CategoryKey = "flood"
	CategoryFoundation        CategoryKey = "foundation"
	CategoryFloorPlan         CategoryKey = "floor_plan"
	CategoryElevationsDetails CategoryKey = "elevations_details"
)

// CategoryOrder is the canonical category order.
var CategoryOrder = []CategoryKey{
	CategorySitePlan, CategoryFlood, CategoryFoundation, CategoryFloorPlan, CategoryElevationsDetails,
}

// AgentID identifies one of the five sub-agent tasks.
type AgentID string

// Sub-agent ids in decomposition order.
const (
	AgentSiteFlood      AgentID = "site_flood"
	AgentFoundation     AgentID = "foundation"
	AgentFloorPlan      AgentID = "floor_plan"
	AgentElevStructural AgentID = "elev_structural"
	AgentElevProtection AgentID = "elev_protection"
)

// AgentOrder is the fixed decomposition order.
var AgentOrder = []AgentID{
	AgentSiteFlood, AgentFoundation, AgentFloorPlan, AgentElevStructural, AgentElevProtection,
}

// CheckDefinition is one catalog entry.
type CheckDefinition struct {
	ID            string      `json:"id"            yaml:"id"`
	Description   string      `json:"desc"          yaml:"desc"`
	CodeReference string      `json:"code"          yaml:"code"`
	Category      CategoryKey `json:"-"             yaml:"-"`
}

// EnrichedCheck is a catalog entry with optional reviewer guidance.
type EnrichedCheck struct {
	CheckDefinition
	SpecificCriteria    []string `json:"specificCriteria,omitempty"`
	CommonFailures      []string `json:"commonFailures,omitempty"`
	JurisdictionContext string   `json:"jurisdictionContext,omitempty"`
}

// Enriched reports whether any enrichment field is populated.
func (c EnrichedCheck) Enriched() bool {
	return len(c.SpecificCriteria) > 0 || len(c.CommonFailures) > 0 || c.JurisdictionContext != ""
}

// EnrichedCategory groups enriched checks under one category.
type EnrichedCategory struct {
	Key           CategoryKey     `json:"categoryKey"`
	Name          string          `json:"name"`
	CodeReference string          `json:"code"`
	Checks        []EnrichedCheck `json:"checks"`
}

// AgentRoute binds a sub-agent to its categories, page types and check subset.
type AgentRoute struct {
	ID         AgentID
	Categories []CategoryKey
	PageTypes  []PageType
	// CheckIDs restricts the route to these ids; empty means every check of Categories.
	CheckIDs []string
}

// SubAgentTask is one concurrent unit of work.
type SubAgentTask struct {
	AgentID       AgentID         `json:"agentId"`
	CategoryKeys  []CategoryKey   `json:"categoryKeys"`
	Checks        []EnrichedCheck `json:"checks"`
	RelevantPages []int           `json:"relevantPages"`
	FallbackPages []int           `json:"fallbackPages"`
}

// Pages returns the pages the task should analyze.
func (t SubAgentTask) Pages() []int {
	if len(t.RelevantPages) > 0 {
		return t.RelevantPages
	}
	return t.FallbackPages
}

// UsesFallback reports whether no relevant page was identified.
func (t SubAgentTask) UsesFallback() bool {
	return len(t.RelevantPages) == 0
}

// CheckStatus is the outcome of one check.
type CheckStatus string

// Check statuses.
const (
	StatusPass          CheckStatus = "PASS"
	StatusFail          CheckStatus = "FAIL"
	StatusVerify        CheckStatus = "VERIFY"
	StatusNotApplicable CheckStatus = "N/A"
)

// ParseCheckStatus maps loosely formatted status text to a CheckStatus.
// The second result is false when the text is empty or not recognized.
func ParseCheckStatus(s string) (CheckStatus, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	switch norm {
	case "PASS", "PASSED":
		return StatusPass, true
	case "FAIL", "FAILED":
		return StatusFail, true
	case "VERIFY", "NEEDS VERIFICATION", "NEEDS_VERIFICATION":
		return StatusVerify, true
	case "N/A", "NA", "N.A.", "NOT APPLICABLE", "NOT_APPLICABLE":
		return StatusNotApplicable, true
	}
	return StatusVerify, false
}

// CheckResult is the evaluated outcome of one check.
type CheckResult struct {
	ID            string      `json:"id"`
	Description   string      `json:"description"`
	CodeReference string      `json:"codeReference"`
	Status        CheckStatus `json:"status"`
	Finding       string      `json:"finding"`
}

// CategoryResult groups check results under one category.
type CategoryResult struct {
	Category      CategoryKey   `json:"category"`
	Name          string        `json:"name"`
	CodeReference string        `json:"codeReference"`
	OverallStatus CheckStatus   `json:"overallStatus"`
	Checks        []CheckResult `json:"checks"`
}

// DeriveCategoryStatus applies the category rule: FAIL if any check fails, else
// VERIFY if any needs verification, else N/A when every check is N/A, else PASS.
func DeriveCategoryStatus(checks []CheckResult) CheckStatus {
	var verify bool
	allNA := len(checks) > 0
	for _, c := range checks {
		switch c.Status {
		case StatusFail:
			return StatusFail
		case StatusVerify:
			verify = true
		}
		if c.Status != StatusNotApplicable {
			allNA = false
		}
	}
	if verify {
		return StatusVerify
	}
	if allNA {
		return StatusNotApplicable
	}
	return StatusPass
}

// Usage reports token usage for one external call.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// SubAgentResult is the immutable output of one sub-agent task.
type SubAgentResult struct {
	AgentID    AgentID          `json:"agentId"`
	Categories []CategoryResult `json:"categories"`
	Error      string           `json:"error,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	Usage      *Usage           `json:"tokensUsed,omitempty"`
}

// Degraded reports whether the result came from the error path.
func (r SubAgentResult) Degraded() bool {
	return r.Error != ""
}

// CheckCount returns the number of check results across categories.
func (r SubAgentResult) CheckCount() int {
	n := 0
	for _, c := range r.Categories {
		n += len(c.Checks)
	}
	return n
}

// Summary counts check outcomes across the report.
type Summary struct {
	TotalChecks       int `json:"totalChecks"`
	Passed            int `json:"passed"`
	Failed            int `json:"failed"`
	NeedsVerification int `json:"needsVerification"`
	NotApplicable     int `json:"notApplicable"`
}

// Add counts one check status.
func (s *Summary) Add(status CheckStatus) {
	s.TotalChecks++
	switch status {
	case StatusPass:
		s.Passed++
	case StatusFail:
		s.Failed++
	case StatusVerify:
		s.NeedsVerification++
	case StatusNotApplicable:
		s.NotApplicable++
	}
}

// DeriveReportStatus applies the report rule. A report where every check is N/A
// is reported as PASS.
func DeriveReportStatus(s Summary) CheckStatus {
	switch {
	case s.Failed > 0:
		return StatusFail
	case s.NeedsVerification > 0:
		return StatusVerify
	default:
		return StatusPass
	}
}

// Sheet is the synthetic single-sheet grouping of merged categories.
type Sheet struct {
	SheetNumber int              `json:"sheetNumber"`
	SheetType   string           `json:"sheetType"`
	Categories  []CategoryResult `json:"categories"`
}

// ReportData is the terminal artifact of a run.
type ReportData struct {
	ProjectName   string      `json:"projectName"`
	AnalyzedAt    time.Time   `json:"analyzedAt"`
	TotalSheets   int         `json:"totalSheets"`
	Sheets        []Sheet     `json:"sheets"`
	Summary       Summary     `json:"summary"`
	OverallStatus CheckStatus `json:"overallStatus"`
}
