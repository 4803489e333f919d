package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/plancheck/internal/history"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and prune the run history",
	}
	cmd.AddCommand(runsListCmd(), runsEventsCmd(), runsPruneCmd())
	return cmd
}

func withHistory(fn func(store *history.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeFn, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(store)
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(store *history.Store) error {
				runs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func printRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Document,
			r.Status,
			string(r.OverallStatus),
			strconv.Itoa(r.Summary.Failed),
			strconv.Itoa(r.Summary.NeedsVerification),
			strconv.FormatInt(r.DurationMs/1000, 10) + "s",
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "CREATED", "DOCUMENT", "OUTCOME", "OVERALL", "FAIL", "VERIFY", "TIME").
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func runsEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the recorded errors and outcome of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(func(store *history.Store) error {
				events, err := store.Events(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, ev := range events {
					if _, err := fmt.Fprintf(w, "%3d  %-12s  %s\n", ev.Seq, ev.Type, ev.Message); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func runsPruneCmd() *cobra.Command {
	var (
		keepLast int
		keepDays int
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy := history.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				policy = history.RetentionPolicy{
					KeepLast: cfg.Store.Retention.KeepLast,
					KeepDays: cfg.Store.Retention.KeepDays,
				}
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure store.retention)")
			}

			store, closeFn, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := store.Prune(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			mode := "deleted"
			if dryRun {
				mode = "would delete"
			}
			log.Info().Msgf("%s %d runs (kept %d of %d)", mode, res.Deleted, res.Kept, res.Considered)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep runs newer than N days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be pruned without deleting")
	return cmd
}
