package subagent

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/metalagman/plancheck/internal/model"
)

//go:embed prompt.gotmpl
var promptTemplate string

var promptTmpl = template.Must(template.New("subagent").Parse(promptTemplate))

// BuildPrompt renders the review instruction for task. Only the task's own
// checks are listed, each with its enrichment inlined. extracted reports
// whether the attached document holds only the task's relevant pages; when
// false the model is told it sees the whole plan set.
func BuildPrompt(task model.SubAgentTask, extracted bool) (string, error) {
	pages := make([]string, 0, len(task.RelevantPages))
	renumbered := make([]string, 0, len(task.RelevantPages))
	for i, p := range task.RelevantPages {
		pages = append(pages, strconv.Itoa(p))
		renumbered = append(renumbered, fmt.Sprintf("page %d is plan page %d", i+1, p))
	}
	keys := make([]string, 0, len(task.CategoryKeys))
	for _, k := range task.CategoryKeys {
		keys = append(keys, `"`+string(k)+`"`)
	}

	relevant := !task.UsesFallback()
	data := struct {
		Relevant     bool
		Extracted    bool
		PageList     string
		Renumbered   string
		CategoryKeys string
		Checks       []model.EnrichedCheck
	}{
		Relevant:     relevant,
		Extracted:    relevant && extracted,
		PageList:     strings.Join(pages, ", "),
		Renumbered:   strings.Join(renumbered, ", "),
		CategoryKeys: strings.Join(keys, ", "),
		Checks:       task.Checks,
	}

	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute sub-agent prompt template: %w", err)
	}
	return buf.String(), nil
}
