// Package commands implements the CLI subcommands for the stagehand binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/app"
	"github.com/dwsmith1983/stagehand/internal/config"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// ExitError carries a process exit status out of a command.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string { return e.Msg }

// addConfigFlag registers the --config flag shared by every command.
func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", ".", "path to stagehand.yaml or its directory")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadApp loads the project config and wires its components.
func loadApp(ctx context.Context, path string, logger *slog.Logger) (*app.App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	a, err := app.Build(ctx, cfg, app.Options{
		Logger:  logger,
		BaseEnv: os.Environ(),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("shutting down", "error", err)
	}
}

func outcomeString(o types.Outcome) string {
	switch o {
	case types.OutcomeSuccess:
		return color.GreenString(string(o))
	case types.OutcomeAborted:
		return color.RedString(string(o))
	default:
		return color.YellowString(string(o))
	}
}

// printReport writes a human-readable summary of a finalized run.
func printReport(w io.Writer, r *types.RunReport) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "%s build #%d: %s\n", r.Pipeline, r.BuildNumber, outcomeString(r.Outcome))
	fmt.Fprintf(w, "  Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "  Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", r.Duration().Round(time.Millisecond))
	if r.LogURL != "" {
		fmt.Fprintf(w, "  Logs:     %s\n", r.LogURL)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.Error)
	}
	fmt.Fprintln(w)

	if len(r.Stages) == 0 {
		fmt.Fprintln(w, "  No stages were executed.")
		return
	}
	for i, s := range r.Stages {
		mark := color.GreenString("✓")
		detail := ""
		if s.Status == types.StageFailed {
			mark = color.RedString("✗")
			if s.ContinueOnFailure {
				mark = color.YellowString("!")
			}
			detail = fmt.Sprintf(" exit=%d %s", s.ExitStatus, s.FailureCategory)
		}
		fmt.Fprintf(w, "  %s %2d. %-30s %8s%s\n", mark, i+1, s.Name, s.Duration().Round(time.Millisecond), detail)
	}
}
