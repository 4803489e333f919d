// Package mcptool exposes plan analysis as a Model Context Protocol tool.
package mcptool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// ToolName is the name of the analysis tool.
const ToolName = "analyze_plan"

// Analyzer runs one analysis.
type Analyzer interface {
	Run(ctx context.Context, doc []byte, documentName, jurisdiction string) (model.ReportData, model.Diagnostics, error)
}

// Recorder stores finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, diag model.Diagnostics, rep *model.ReportData) error
}

// Input is the analyze_plan argument object.
type Input struct {
	Path         string `json:"path"                   jsonschema:"path to the plan set PDF on the local filesystem"`
	Jurisdiction string `json:"jurisdiction,omitempty" jsonschema:"permitting jurisdiction used to tailor the checks, e.g. a county name"`
}

// Output is the analyze_plan result payload.
type Output struct {
	Report      model.ReportData  `json:"report"`
	Diagnostics model.Diagnostics `json:"diagnostics"`
}

// Option configures the tool.
type Option func(*tool)

// WithRecorder records every run.
func WithRecorder(r Recorder) Option {
	return func(t *tool) { t.recorder = r }
}

// WithMaxBytes rejects documents larger than n.
func WithMaxBytes(n int64) Option {
	return func(t *tool) { t.maxBytes = n }
}

type tool struct {
	analyzer Analyzer
	recorder Recorder
	maxBytes int64
}

// NewServer returns an MCP server with the analyze_plan tool registered.
func NewServer(a Analyzer, version string, opts ...Option) *mcp.Server {
	t := &tool{analyzer: a}
	for _, o := range opts {
		o(t)
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "plancheck", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name: ToolName,
		Description: "Review a residential construction plan set PDF against the 42-item code compliance checklist. " +
			"Returns the report (per-check PASS/FAIL/VERIFY/N/A with findings) and run diagnostics.",
	}, t.handle)
	return server
}

// Serve runs server over stdin/stdout until ctx is done or the client disconnects.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (t *tool) handle(ctx context.Context, _ *mcp.CallToolRequest, in Input) (*mcp.CallToolResult, any, error) {
	doc, err := t.load(in.Path)
	if err != nil {
		return errorResult(err), nil, nil
	}

	name := filepath.Base(in.Path)
	rep, diag, err := t.analyzer.Run(ctx, doc, name, in.Jurisdiction)
	if err != nil {
		t.record(diag, nil)
		return errorResult(fmt.Errorf("analysis failed: %w", err)), nil, nil
	}
	t.record(diag, &rep)

	data, err := json.MarshalIndent(Output{Report: rep, Diagnostics: diag}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal report: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func (t *tool) load(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if t.maxBytes > 0 && info.Size() > t.maxBytes {
		return nil, fmt.Errorf("document is %d bytes, limit is %d", info.Size(), t.maxBytes)
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return nil, fmt.Errorf("only PDF files are supported")
	}
	return doc, nil
}

func (t *tool) record(diag model.Diagnostics, rep *model.ReportData) {
	if t.recorder == nil || diag.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.recorder.RecordRun(ctx, diag, rep); err != nil {
		log.Warn().Err(err).Str("run_id", diag.RunID).Msg("record run")
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
