package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/plancheck/internal/history"
	"github.com/metalagman/plancheck/internal/model"
	"github.com/metalagman/plancheck/internal/render"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var (
		jurisdiction string
		format       string
		outPath      string
		noHistory    bool
		annotations  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <plans.pdf>",
		Short: "Review a plan set PDF against the compliance checklist",
		Long: "Review a plan set PDF against the compliance checklist.\n\n" +
			"Only an unreadable document or a failed page classification is fatal; " +
			"any other failure is reported as VERIFY checks and listed in the diagnostics.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, err := readPlanSet(args[0], cfg.Server.MaxUploadBytes())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			var store *history.Store
			closeFn := func() {}
			if !noHistory {
				store, closeFn = openHistoryOrWarn(cfg)
			}
			defer closeFn()

			rep, diag, runErr := a.pipeline.Run(cmd.Context(), doc, filepath.Base(args[0]), jurisdiction)
			var anns []model.Annotation
			if runErr == nil && annotations {
				anns = a.annotateReport(cmd.Context(), doc, rep, &diag)
			}
			if store != nil {
				var recorded *model.ReportData
				if runErr == nil {
					recorded = &rep
				}
				recordRun(store, diag, recorded)
			}
			if runErr != nil {
				return fmt.Errorf("analysis failed: %w", runErr)
			}

			var w io.Writer = cmd.OutOrStdout()
			styled := outPath == "" && isTerminal(os.Stdout)
			if outPath != "" {
				out, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() { _ = out.Close() }()
				w = out
			}
			return render.Render(w, render.Output{Report: rep, Diagnostics: &diag, Annotations: anns}, f, render.Options{Styled: styled})
		},
	}
	cmd.Flags().StringVarP(&jurisdiction, "jurisdiction", "j", "", "permitting jurisdiction, e.g. a county name")
	cmd.Flags().StringVarP(&format, "format", "f", string(render.FormatSummary), "output format: json, markdown or summary")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().BoolVar(&annotations, "annotate", false, "place each finding on the plan page it refers to")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
	return cmd
}

func readPlanSet(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxBytes)
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return nil, fmt.Errorf("%s: only PDF files are supported", path)
	}
	return doc, nil
}

func recordRun(store *history.Store, diag model.Diagnostics, rep *model.ReportData) {
	if diag.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.RecordRun(ctx, diag, rep); err != nil {
		log.Warn().Err(err).Str("run_id", diag.RunID).Msg("record run")
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
