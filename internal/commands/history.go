package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/app"
	"github.com/dwsmith1983/stagehand/internal/config"
	"github.com/dwsmith1983/stagehand/internal/store"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs of the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, configPath, func(ctx context.Context, st store.Store, pipeline string) error {
				reports, err := st.ListReports(ctx, pipeline, limit)
				if err != nil {
					return fmt.Errorf("listing runs: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(reports) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				_, _ = color.New(color.Bold).Fprintf(out, "Recent runs of %s:\n", pipeline)
				for _, r := range reports {
					fmt.Fprintf(out, "  #%-5d %s  %-18s %s  %s\n",
						r.BuildNumber, r.RunID, outcomeString(r.Outcome),
						r.StartedAt.Local().Format(time.RFC3339), r.Duration().Round(time.Second))
				}
				return nil
			})
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

// NewShowCmd creates the show command.
func NewShowCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the report of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, configPath, func(ctx context.Context, st store.Store, _ string) error {
				report, err := st.GetReport(ctx, args[0])
				if err != nil {
					return fmt.Errorf("loading run: %w", err)
				}
				if report == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				printReport(out, report)
				return nil
			})
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func withStore(cmd *cobra.Command, configPath string, fn func(context.Context, store.Store, string) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := app.NewStore(ctx, cfg, newLogger(cmd.ErrOrStderr(), false))
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("run history is disabled (store.type is none)")
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()
	return fn(ctx, st, cfg.Pipeline.Name)
}
