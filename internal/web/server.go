// Package web serves the plan review HTTP API and a small status page.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/metalagman/plancheck/internal/history"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/rs/zerolog/log"
)

// DefaultMaxUploadBytes is the upload limit when none is configured.
const DefaultMaxUploadBytes int64 = 50 << 20

// multipartSlack covers multipart framing around the file part.
const multipartSlack = 1 << 20

const defaultListLimit = 50

var pdfMagic = []byte("%PDF-")

// Analyzer runs one analysis.
type Analyzer interface {
	Run(ctx context.Context, doc []byte, documentName, jurisdiction string) (model.ReportData, model.Diagnostics, error)
}

// History is the run ledger.
type History interface {
	RecordRun(ctx context.Context, diag model.Diagnostics, rep *model.ReportData) error
	List(ctx context.Context, limit int) ([]history.Run, error)
	Events(ctx context.Context, runID string) ([]history.Event, error)
}

// Annotator places report findings on plan pages.
type Annotator interface {
	Annotate(ctx context.Context, doc []byte, rep model.ReportData) ([]model.Annotation, model.Usage, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables run recording and the /api/runs endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithAnnotator enables the /api/annotate endpoint.
func WithAnnotator(a Annotator) Option {
	return func(s *Server) { s.annotator = a }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMaxUploadBytes sets the largest accepted document.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// Server provides the HTTP handlers.
type Server struct {
	analyzer  Analyzer
	history   History
	annotator Annotator
	metrics   http.Handler
	maxUpload int64
	engine    *gin.Engine
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a server and builds its routes.
func NewServer(analyzer Analyzer, opts ...Option) (*Server, error) {
	s := &Server{analyzer: analyzer, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(s)
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"ms": func(ms int64) string { return (time.Duration(ms) * time.Millisecond).String() },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.SetHTMLTemplate(tmpl)

	engine.GET("/", s.handleIndex)
	engine.GET("/healthz", s.handleHealth)
	api := engine.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.POST("/annotate", s.handleAnnotate)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id/events", s.handleRunEvents)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics))
	}
	s.engine = engine
	return s, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIndex(c *gin.Context) {
	var runs []history.Run
	if s.history != nil {
		var err error
		if runs, err = s.history.List(c.Request.Context(), 20); err != nil {
			log.Warn().Err(err).Msg("list runs for index")
		}
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Runs":        runs,
		"MaxUploadMB": s.maxUpload >> 20,
	})
}

// readUpload reads the multipart "file" PDF. On failure it writes the error
// response and returns false.
func (s *Server) readUpload(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return nil, "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return nil, "", false
	}
	if fh.Size > s.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return nil, "", false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return nil, "", false
	}
	doc, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return nil, "", false
	}
	if fh.Header.Get("Content-Type") != "application/pdf" && !bytes.HasPrefix(doc, pdfMagic) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are supported"})
		return nil, "", false
	}
	return doc, filepath.Base(fh.Filename), true
}

func (s *Server) handleAnalyze(c *gin.Context) {
	doc, name, ok := s.readUpload(c)
	if !ok {
		return
	}
	jurisdiction := c.PostForm("jurisdiction")

	ctx := c.Request.Context()
	rep, diag, err := s.analyzer.Run(ctx, doc, name, jurisdiction)
	if err != nil {
		s.record(diag, nil)
		log.Error().Err(err).Str("document", name).Msg("analysis pipeline error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed", "details": err.Error()})
		return
	}
	s.record(diag, &rep)
	c.JSON(http.StatusOK, gin.H{"success": true, "report": rep, "diagnostics": diag})
}

// handleAnnotate places the findings of a finished report on the uploaded
// plans. The report travels as JSON in the "report" form field.
func (s *Server) handleAnnotate(c *gin.Context) {
	if s.annotator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Annotation is disabled"})
		return
	}
	doc, name, ok := s.readUpload(c)
	if !ok {
		return
	}
	raw := c.PostForm("report")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Report data required"})
		return
	}
	var rep model.ReportData
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report data", "details": err.Error()})
		return
	}

	annotations, usage, err := s.annotator.Annotate(c.Request.Context(), doc, rep)
	if err != nil {
		log.Error().Err(err).Str("document", name).Msg("annotation error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Annotation failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "annotations": annotations, "tokensUsed": usage})
}

// record stores the run detached from the request so a disconnect cannot
// drop it. Failures are logged only.
func (s *Server) record(diag model.Diagnostics, rep *model.ReportData) {
	if s.history == nil || diag.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.RecordRun(ctx, diag, rep); err != nil {
		log.Warn().Err(err).Str("run_id", diag.RunID).Msg("record run")
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run history is disabled"})
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "List runs failed", "details": err.Error()})
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run history is disabled"})
		return
	}
	events, err := s.history.Events(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "List events failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
