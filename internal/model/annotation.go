package model

// Annotation marks where a finding applies on a plan page. X and Y are
// percentages of the page width and height measured from the top-left corner.
type Annotation struct {
	Page          int         `json:"page"`
	X             float64     `json:"x"`
	Y             float64     `json:"y"`
	Type          CheckStatus `json:"type"`
	Label         string      `json:"label"`
	Detail        string      `json:"detail"`
	Category      CategoryKey `json:"category"`
	CheckID       string      `json:"checkId"`
	CodeReference string      `json:"codeReference"`
	// Approximate is set when the element could not be pinpointed or the
	// position had to be corrected.
	Approximate bool `json:"approximate"`
}
