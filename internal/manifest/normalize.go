package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/rs/zerolog/log"
)

// MaxPages bounds the page count accepted from a manifest.
const MaxPages = 1000

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", b)
	}
	*f = flexInt(int(v))
	return nil
}

type rawPage struct {
	PageNumber   flexInt  `json:"pageNumber"`
	PageTypes    []string `json:"pageTypes"`
	SheetLabel   string   `json:"sheetLabel"`
	SheetTitle   string   `json:"sheetTitle"`
	Elements     []string `json:"elements"`
	HasSchedules bool     `json:"hasSchedules"`
	HasNotes     bool     `json:"hasNotes"`
	Confidence   *float64 `json:"confidence"`
}

type rawManifest struct {
	TotalPages  flexInt           `json:"totalPages"`
	ProjectInfo model.ProjectInfo `json:"projectInfo"`
	Pages       []rawPage         `json:"pages"`
}

// normalize turns a decoded response into a manifest whose pages are exactly
// 1..TotalPages. A positive pageCount overrides the response's totalPages.
//
// Unknown type tags are dropped and an entry left without tags becomes
// unknown. Confidence is clamped to [0,1]. Out-of-range and duplicate entries
// are dropped, and missing pages are filled with unknown entries of zero
// confidence.
func normalize(raw rawManifest, pageCount int) (model.PageManifest, error) {
	if raw.Pages == nil {
		return model.PageManifest{}, fmt.Errorf("%w: missing pages array", ErrInvalidManifest)
	}
	if len(raw.Pages) == 0 {
		return model.PageManifest{}, fmt.Errorf("%w: pages array is empty", ErrInvalidManifest)
	}

	total := pageCount
	if total <= 0 {
		total = int(raw.TotalPages)
	}
	if total <= 0 {
		for _, p := range raw.Pages {
			total = max(total, int(p.PageNumber))
		}
	}
	if total <= 0 {
		return model.PageManifest{}, fmt.Errorf("%w: no page numbers", ErrInvalidManifest)
	}
	if total > MaxPages {
		return model.PageManifest{}, fmt.Errorf("%w: %d pages exceeds limit of %d", ErrInvalidManifest, total, MaxPages)
	}

	byNumber := make(map[int]model.PageManifestEntry, len(raw.Pages))
	for _, p := range raw.Pages {
		n := int(p.PageNumber)
		if n < 1 || n > total {
			log.Debug().Int("page", n).Int("total_pages", total).Msg("dropping out-of-range manifest entry")
			continue
		}
		if _, dup := byNumber[n]; dup {
			log.Debug().Int("page", n).Msg("dropping duplicate manifest entry")
			continue
		}
		byNumber[n] = normalizePage(n, p)
	}
	if len(byNumber) == 0 {
		return model.PageManifest{}, fmt.Errorf("%w: no usable page entries", ErrInvalidManifest)
	}

	m := model.PageManifest{
		TotalPages:  total,
		ProjectInfo: trimProjectInfo(raw.ProjectInfo),
		Pages:       make([]model.PageManifestEntry, 0, total),
	}
	for n := 1; n <= total; n++ {
		e, ok := byNumber[n]
		if !ok {
			e = model.PageManifestEntry{
				PageNumber: n,
				PageTypes:  []model.PageType{model.PageUnknown},
				Elements:   []string{},
			}
		}
		m.Pages = append(m.Pages, e)
	}
	return m, nil
}

func normalizePage(n int, p rawPage) model.PageManifestEntry {
	e := model.PageManifestEntry{
		PageNumber:   n,
		SheetLabel:   strings.TrimSpace(p.SheetLabel),
		SheetTitle:   strings.TrimSpace(p.SheetTitle),
		Elements:     []string{},
		HasSchedules: p.HasSchedules,
		HasNotes:     p.HasNotes,
	}

	seen := make(map[model.PageType]bool, len(p.PageTypes))
	for _, tag := range p.PageTypes {
		pt := model.PageType(strings.ToLower(strings.TrimSpace(tag)))
		if !pt.Valid() || seen[pt] {
			continue
		}
		seen[pt] = true
		e.PageTypes = append(e.PageTypes, pt)
	}
	if len(e.PageTypes) == 0 {
		e.PageTypes = []model.PageType{model.PageUnknown}
	}

	for _, el := range p.Elements {
		if el = strings.TrimSpace(el); el != "" {
			e.Elements = append(e.Elements, el)
		}
	}

	if p.Confidence != nil {
		e.Confidence = min(max(*p.Confidence, 0), 1)
	}
	return e
}

func trimProjectInfo(pi model.ProjectInfo) model.ProjectInfo {
	return model.ProjectInfo{
		Address:     strings.TrimSpace(pi.Address),
		Designer:    strings.TrimSpace(pi.Designer),
		Date:        strings.TrimSpace(pi.Date),
		CodeEdition: strings.TrimSpace(pi.CodeEdition),
	}
}
