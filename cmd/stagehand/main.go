package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "stagehand",
		Short: "Sequential CI/CD stage runner",
		Long: `Stagehand runs a pipeline's stages one after another in a shared workspace.
A failing stage aborts the run unless it is marked continueOnFailure, and a
report is sent once every run has finished, whatever its outcome.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewValidateCmd(),
		commands.NewRunCmd(),
		commands.NewToolsCmd(),
		commands.NewHistoryCmd(),
		commands.NewShowCmd(),
		commands.NewServeCmd(),
		commands.NewRemoteCmd(),
	)

	if err := root.Execute(); err != nil {
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.Msg)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
