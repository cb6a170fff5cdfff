package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/runner"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		configPath string
		strict     bool
		asJSON     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and send the post-run notification",
		Long: `Runs every stage in declared order. A failing stage aborts the run unless it
is marked continueOnFailure. The notification is sent exactly once whatever
the outcome.

Exit status: 0 success, 1 aborted, 2 failed, 3 degraded success with --strict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, configPath, strict, asJSON, verbose)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a continueOnFailure stage failed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runPipeline(cmd *cobra.Command, configPath string, strict, asJSON, verbose bool) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, configPath, newLogger(cmd.ErrOrStderr(), verbose))
	if err != nil {
		return err
	}
	defer closeApp(a)

	report, notifyErr := a.Execute(ctx)
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}
	if notifyErr != nil {
		a.Logger.Warn("notification not fully delivered", "error", notifyErr)
	}

	if code := runner.ExitCode(report, strict); code != 0 {
		msg := fmt.Sprintf("run %s finished %s", report.RunID, report.Outcome)
		if report.Outcome == types.OutcomeSuccess {
			msg += " with failed stages: " + strings.Join(report.FailedStages(), ", ")
		}
		return &ExitError{Code: code, Msg: msg}
	}
	return nil
}
