package annotate

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/rs/zerolog/log"
)

// centre is used for a coordinate the response left out.
const centre = 50

// coord accepts a JSON number, a numeric string or a percentage string.
// Anything else leaves it unset.
type coord struct {
	v  float64
	ok bool
}

func (c *coord) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		b = []byte(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(b)), 64)
	if err != nil {
		return nil
	}
	*c = coord{v: v, ok: true}
	return nil
}

type rawAnnotation struct {
	Page        coord  `json:"page"`
	X           coord  `json:"x"`
	Y           coord  `json:"y"`
	Label       string `json:"label"`
	Detail      string `json:"detail"`
	CheckID     string `json:"checkId"`
	Approximate bool   `json:"approximate"`
}

type rawResponse struct {
	Annotations []rawAnnotation `json:"annotations"`
}

// normalize keeps one marker per known check id, in findings order. Status,
// category and code reference always come from the finding. Markers on pages
// outside 1..totalPages are dropped; positions are clamped to 0..100. It
// returns the markers and how many entries were dropped.
func normalize(raw rawResponse, findings []Finding, totalPages int) ([]model.Annotation, int) {
	order := make(map[string]int, len(findings))
	for i, f := range findings {
		order[strings.ToUpper(f.ID)] = i
	}

	out := make([]model.Annotation, 0, len(raw.Annotations))
	placed := make(map[int]bool, len(findings))
	dropped := 0
	for _, r := range raw.Annotations {
		idx, ok := order[strings.ToUpper(strings.TrimSpace(r.CheckID))]
		if !ok || placed[idx] {
			dropped++
			continue
		}
		page := int(r.Page.v)
		if !r.Page.ok || page < 1 || (totalPages > 0 && page > totalPages) {
			log.Debug().Str("check_id", r.CheckID).Float64("page", r.Page.v).Msg("annotation page out of range")
			dropped++
			continue
		}
		placed[idx] = true

		f := findings[idx]
		x, xExact := position(r.X)
		y, yExact := position(r.Y)
		a := model.Annotation{
			Page:          page,
			X:             x,
			Y:             y,
			Type:          f.Status,
			Label:         strings.TrimSpace(r.Label),
			Detail:        strings.TrimSpace(r.Detail),
			Category:      f.Category,
			CheckID:       f.ID,
			CodeReference: f.CodeReference,
			Approximate:   r.Approximate || !xExact || !yExact,
		}
		if a.Label == "" {
			a.Label = f.ID
		}
		if a.Detail == "" {
			a.Detail = f.Finding
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return order[strings.ToUpper(out[i].CheckID)] < order[strings.ToUpper(out[j].CheckID)]
	})
	return out, dropped
}

// position clamps c to a page percentage. It reports false when c was
// missing or had to be clamped.
func position(c coord) (float64, bool) {
	switch {
	case !c.ok:
		return centre, false
	case c.v < 0:
		return 0, false
	case c.v > 100:
		return 100, false
	default:
		return c.v, true
	}
}
