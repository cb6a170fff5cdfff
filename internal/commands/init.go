package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a stagehand.yaml for a DevSecOps pipeline",
		Long:  "Writes a sample stagehand.yaml, a quality-gate script and a .env template into dir.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

const qualityGateScript = `#!/bin/sh
# Polls the SonarQube quality gate for the last analysis.
set -eu
: "${SONAR_HOST_URL:=http://localhost:9000}"
task=$(sed -n 's/^ceTaskId=//p' .scannerwork/report-task.txt)
analysis=$(curl -sf -u "$SONAR_TOKEN:" "$SONAR_HOST_URL/api/ce/task?id=$task" | sed -n 's/.*"analysisId":"\([^"]*\)".*/\1/p')
curl -sf -u "$SONAR_TOKEN:" "$SONAR_HOST_URL/api/qualitygates/project_status?analysisId=$analysis" | grep -q '"status":"OK"'
`

const envTemplate = `# Loaded by stagehand before reading stagehand.yaml.
DOCKERHUB_USER=
SMTP_USER=
SMTP_PASSWORD=
`

func runInit(cmd *cobra.Command, dir string, force bool) error {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "Initializing stagehand project in %s\n", dir)

	files := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{config.FileName, config.Sample(), 0o644},
		{filepath.Join("scripts", "quality-gate.sh"), []byte(qualityGateScript), 0o755},
		{".env.example", []byte(envTemplate), 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.path)
		if !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(path, f.data, f.mode); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(out, "  %s %s\n", color.GreenString("✓"), path)
	}

	fmt.Fprintln(out)
	_, _ = bold.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  cd %s\n", dir)
	fmt.Fprintln(out, "  stagehand validate")
	fmt.Fprintln(out, "  stagehand run")
	return nil
}
