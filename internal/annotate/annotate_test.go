package annotate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/reasoning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfDoc = []byte("%PDF-1.7 plans")

func sampleReport() model.ReportData {
	return model.ReportData{
		ProjectName: "Lot 7",
		TotalSheets: 4,
		Sheets: []model.Sheet{{
			SheetNumber: 1,
			Categories: []model.CategoryResult{
				{
					Category:      model.CategorySitePlan,
					Name:          "Site Plan",
					CodeReference: "FBC-R R101",
					Checks: []model.CheckResult{
						{ID: "SP-01", Description: "Existing structures", CodeReference: "R101.2", Status: model.StatusPass, Finding: "All structures shown."},
						{ID: "SP-02", Description: "Easements", CodeReference: "R101.3", Status: model.StatusNotApplicable, Finding: "No easements."},
					},
				},
				{
					Category:      model.CategoryFloorPlan,
					Name:          "Floor Plan",
					CodeReference: "FBC-R R310",
					Checks: []model.CheckResult{
						{ID: "FP-04", Description: "Egress windows", CodeReference: "R310.2", Status: model.StatusFail, Finding: "Bedroom 2 window not dimensioned."},
						{ID: "FP-05", Description: "Smoke alarms", CodeReference: "R314", Status: model.StatusVerify, Finding: "Alarm locations unclear."},
					},
				},
			},
		}},
	}
}

func replying(text string, calls *atomic.Int32, seen *reasoning.Request) reasoning.Client {
	return reasoning.ClientFunc(func(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
		calls.Add(1)
		if seen != nil {
			*seen = req
		}
		return reasoning.Response{Text: text, Usage: model.Usage{InputTokens: 5000, OutputTokens: 700}}, nil
	})
}

func TestFindings(t *testing.T) {
	t.Parallel()

	rep := sampleReport()
	rep.Sheets = append(rep.Sheets, rep.Sheets[0])

	got := Findings(rep)
	ids := make([]string, 0, len(got))
	for _, f := range got {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"SP-01", "FP-04", "FP-05"}, ids)
	assert.Equal(t, model.CategoryFloorPlan, got[1].Category)
	assert.Equal(t, "Floor Plan", got[1].CategoryName)
	assert.Equal(t, model.StatusFail, got[1].Status)
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	const resp = "Here you go:\n```json\n" + `{"annotations":[
		{"page":"3","x":"42.5%","y":61,"label":"Egress window","detail":"Window size missing.","checkId":"fp-04","approximate":false},
		{"page":1,"x":10,"y":20,"label":"","detail":"","checkId":"SP-01"},
		{"page":2,"x":150,"y":-4,"label":"Smoke alarms","detail":"Show alarms.","checkId":"FP-05"},
		{"page":2,"x":5,"y":5,"label":"Dup","checkId":"FP-05"},
		{"page":2,"x":5,"y":5,"label":"Skipped","checkId":"SP-02"},
		{"page":9,"x":5,"y":5,"label":"Off the end","checkId":"SP-01"},
		{"page":1,"x":5,"y":5,"label":"Unknown","checkId":"ZZ-99"},
	]}` + "\n```"

	var calls atomic.Int32
	var seen reasoning.Request
	a := NewAnnotator(replying(resp, &calls, &seen), WithMaxTokens(9000))

	got, usage, err := a.Annotate(context.Background(), pdfDoc, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 5000, usage.InputTokens)

	assert.Equal(t, "annotate", seen.Label)
	assert.Equal(t, reasoning.MimePDF, seen.DocumentMIME)
	assert.Equal(t, pdfDoc, seen.Document)
	assert.Equal(t, 9000, seen.MaxTokens)
	assert.NotContains(t, seen.Instruction, "SP-02")

	want := []model.Annotation{
		{
			Page: 1, X: 10, Y: 20, Type: model.StatusPass, Label: "SP-01", Detail: "All structures shown.",
			Category: model.CategorySitePlan, CheckID: "SP-01", CodeReference: "R101.2",
		},
		{
			Page: 3, X: 42.5, Y: 61, Type: model.StatusFail, Label: "Egress window", Detail: "Window size missing.",
			Category: model.CategoryFloorPlan, CheckID: "FP-04", CodeReference: "R310.2",
		},
		{
			Page: 2, X: 100, Y: 0, Type: model.StatusVerify, Label: "Smoke alarms", Detail: "Show alarms.",
			Category: model.CategoryFloorPlan, CheckID: "FP-05", CodeReference: "R314", Approximate: true,
		},
	}
	assert.Equal(t, want, got)
}

func TestAnnotateMissingPosition(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := NewAnnotator(replying(`{"annotations":[{"page":3,"x":"left","checkId":"FP-04"}]}`, &calls, nil))

	got, _, err := a.Annotate(context.Background(), pdfDoc, sampleReport())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 50.0, got[0].X, 0.001)
	assert.InDelta(t, 50.0, got[0].Y, 0.001)
	assert.True(t, got[0].Approximate)
}

func TestAnnotateWithoutFindings(t *testing.T) {
	t.Parallel()

	rep := sampleReport()
	for i := range rep.Sheets[0].Categories {
		for j := range rep.Sheets[0].Categories[i].Checks {
			rep.Sheets[0].Categories[i].Checks[j].Status = model.StatusNotApplicable
		}
	}

	var calls atomic.Int32
	a := NewAnnotator(replying(`{}`, &calls, nil))

	got, usage, err := a.Annotate(context.Background(), nil, rep)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Zero(t, usage)
	assert.Zero(t, calls.Load())
}

func TestAnnotateErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	tests := []struct {
		name      string
		doc       []byte
		client    reasoning.Client
		wantIs    error
		wantErr   string
		wantUsage int
	}{
		{
			name:    "empty document",
			client:  reasoning.ClientFunc(func(context.Context, reasoning.Request) (reasoning.Response, error) { return reasoning.Response{}, nil }),
			wantErr: "document is empty",
		},
		{
			name: "call failed",
			doc:  pdfDoc,
			client: reasoning.ClientFunc(func(context.Context, reasoning.Request) (reasoning.Response, error) {
				return reasoning.Response{}, boom
			}),
			wantIs: boom,
		},
		{
			name: "empty response still billed",
			doc:  pdfDoc,
			client: reasoning.ClientFunc(func(context.Context, reasoning.Request) (reasoning.Response, error) {
				return reasoning.Response{Usage: model.Usage{InputTokens: 4200}}, reasoning.ErrEmptyResponse
			}),
			wantIs:    reasoning.ErrEmptyResponse,
			wantUsage: 4200,
		},
		{
			name: "not json",
			doc:  pdfDoc,
			client: reasoning.ClientFunc(func(context.Context, reasoning.Request) (reasoning.Response, error) {
				return reasoning.Response{Text: "I could not find any markers.", Usage: model.Usage{InputTokens: 10}}, nil
			}),
			wantIs:    ErrInvalidAnnotations,
			wantUsage: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, usage, err := NewAnnotator(tt.client).Annotate(context.Background(), tt.doc, sampleReport())
			if err == nil {
				t.Fatalf("Annotate() error = nil, want error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("Annotate() error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Annotate() error = %v, want substring %q", err, tt.wantErr)
			}
			assert.Nil(t, got)
			assert.Equal(t, tt.wantUsage, usage.InputTokens)
		})
	}
}

func TestAnnotateNoAnnotationsArray(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	got, _, err := NewAnnotator(replying(`{"notes":"nothing to place"}`, &calls, nil)).
		Annotate(context.Background(), pdfDoc, sampleReport())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPrompt(t *testing.T) {
	t.Parallel()

	p, err := Prompt(Findings(sampleReport()), 4)
	require.NoError(t, err)
	assert.Contains(t, p, "4 page(s)")
	assert.Contains(t, p, `"id": "FP-04"`)
	assert.Contains(t, p, `"status": "FAIL"`)
	assert.Contains(t, p, `"annotations"`)

	p, err = Prompt(Findings(sampleReport()), 0)
	require.NoError(t, err)
	assert.NotContains(t, p, "page(s)")
}
