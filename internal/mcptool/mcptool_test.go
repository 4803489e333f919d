package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	err  error
	got  []string
	docs int
}

func (f *fakeAnalyzer) Run(_ context.Context, doc []byte, name, jurisdiction string) (model.ReportData, model.Diagnostics, error) {
	f.got = append(f.got, name+"|"+jurisdiction)
	f.docs += len(doc)
	diag := model.Diagnostics{RunID: "run-1", DocumentName: name, Errors: []string{}}
	if f.err != nil {
		return model.ReportData{}, diag, f.err
	}
	return model.ReportData{ProjectName: "12 Palm Ave", OverallStatus: model.StatusFail}, diag, nil
}

type fakeRecorder struct {
	runs []*model.ReportData
}

func (r *fakeRecorder) RecordRun(_ context.Context, _ model.Diagnostics, rep *model.ReportData) error {
	r.runs = append(r.runs, rep)
	return nil
}

func writePDF(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.pdf")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestHandle(t *testing.T) {
	t.Parallel()

	a := &fakeAnalyzer{}
	rec := &fakeRecorder{}
	tl := &tool{analyzer: a, recorder: rec}
	path := writePDF(t, "%PDF-1.7 stub")

	res, _, err := tl.handle(context.Background(), nil, Input{Path: path, Jurisdiction: "Alachua"})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out Output
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	assert.Equal(t, "12 Palm Ave", out.Report.ProjectName)
	assert.Equal(t, "run-1", out.Diagnostics.RunID)
	assert.Equal(t, []string{"plans.pdf|Alachua"}, a.got)
	require.Len(t, rec.runs, 1)
	assert.NotNil(t, rec.runs[0])
}

func TestHandleErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	notPDF := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o600))
	big := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(big, append([]byte("%PDF-"), make([]byte, 100)...), 0o600))

	tests := []struct {
		name     string
		in       Input
		analyzer *fakeAnalyzer
		want     string
		analyzed bool
	}{
		{name: "empty path", in: Input{}, analyzer: &fakeAnalyzer{}, want: "path is required"},
		{name: "missing file", in: Input{Path: filepath.Join(dir, "absent.pdf")}, analyzer: &fakeAnalyzer{}, want: "open document"},
		{name: "directory", in: Input{Path: dir}, analyzer: &fakeAnalyzer{}, want: "is a directory"},
		{name: "not a pdf", in: Input{Path: notPDF}, analyzer: &fakeAnalyzer{}, want: "only PDF files"},
		{name: "too large", in: Input{Path: big}, analyzer: &fakeAnalyzer{}, want: "limit is 64"},
		{
			name:     "pipeline failure",
			in:       Input{Path: writePDF(t, "%PDF-1.7")},
			analyzer: &fakeAnalyzer{err: errors.New("page manifest failed")},
			want:     "analysis failed: page manifest failed",
			analyzed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &fakeRecorder{}
			tl := &tool{analyzer: tt.analyzer, recorder: rec, maxBytes: 64}
			res, _, err := tl.handle(context.Background(), nil, tt.in)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, textOf(t, res), tt.want)
			assert.Equal(t, tt.analyzed, len(tt.analyzer.got) == 1)
			if tt.analyzed {
				require.Len(t, rec.runs, 1)
				assert.Nil(t, rec.runs[0])
			}
		})
	}
}

func TestServerOverInMemoryTransport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	server := NewServer(&fakeAnalyzer{}, "test")
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, ToolName, tools.Tools[0].Name)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolName,
		Arguments: map[string]any{"path": writePDF(t, "%PDF-1.7")},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "12 Palm Ave")
}
