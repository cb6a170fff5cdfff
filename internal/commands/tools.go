package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/config"
	"github.com/dwsmith1983/stagehand/internal/toolchain"
)

// NewToolsCmd creates the tools command.
func NewToolsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the configured tool versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			reg, err := toolchain.NewRegistry(cfg.Workspace, cfg.Tools)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			names := reg.Names()
			if len(names) == 0 {
				fmt.Fprintln(out, "No tools configured.")
				return nil
			}
			for _, name := range names {
				t, _ := reg.Resolve(name)
				state := color.GreenString("installed")
				if !t.Installed() {
					state = color.RedString("missing")
				}
				version := t.Version
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(out, "  %-20s %-10s %-10s %s\n", t.Name, version, state, t.Home)
			}
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}
