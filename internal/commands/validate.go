package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/config"
	"github.com/dwsmith1983/stagehand/internal/toolchain"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check stagehand.yaml without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func runValidate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reg, err := toolchain.NewRegistry(cfg.Workspace, cfg.Tools)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(out, "✓ %s is valid\n", cfg.Pipeline.Name)
	fmt.Fprintf(out, "  Workspace: %s\n", cfg.Workspace)
	fmt.Fprintf(out, "  Stages:    %d\n", len(cfg.Pipeline.Stages))
	for i, s := range cfg.Pipeline.Stages {
		suffix := ""
		if s.ContinueOnFailure {
			suffix = " (continueOnFailure)"
		}
		fmt.Fprintf(out, "    %2d. %s%s\n", i+1, s.Name, suffix)
	}

	// Unknown tools only fail at run time, so they are warnings here.
	var warnings int
	for _, name := range cfg.Pipeline.ToolNames() {
		t, err := reg.Resolve(name)
		if err != nil {
			color.New(color.FgYellow).Fprintf(out, "! %v\n", err)
			warnings++
			continue
		}
		if !t.Installed() {
			color.New(color.FgYellow).Fprintf(out, "! tool %q: %s does not exist\n", name, t.BinDir)
			warnings++
		}
	}
	if warnings > 0 {
		fmt.Fprintf(out, "%d warning(s)\n", warnings)
	}
	return nil
}
