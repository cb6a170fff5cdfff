package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/stagehand/internal/runner"
	"github.com/dwsmith1983/stagehand/internal/trigger"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// NewRemoteCmd creates the remote command group for the deployed runner.
func NewRemoteCmd() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Start or schedule runs on the deployed runner function",
	}
	cmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (default from environment)")
	cmd.AddCommand(newRemoteRunCmd(&region), newRemoteScheduleCmd(&region))
	return cmd
}

func newRemoteRunCmd(region *string) *cobra.Command {
	var (
		function string
		ref      trigger.Ref
		wait     bool
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Invoke the runner function once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			c := trigger.New(trigger.WithRegion(*region))
			resp, err := c.Invoke(cmd.Context(), function, ref, wait)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintf(out, "Run queued on %s\n", function)
				return nil
			}

			report := &types.RunReport{
				RunID:       resp.RunID,
				Pipeline:    resp.Pipeline,
				BuildNumber: resp.BuildNumber,
				Outcome:     resp.Outcome,
				Degraded:    resp.Degraded,
				Error:       resp.Error,
			}
			_, _ = color.New(color.Bold).Fprintf(out, "%s build #%d: %s\n", resp.Pipeline, resp.BuildNumber, outcomeString(resp.Outcome))
			fmt.Fprintf(out, "  Run: %s\n", resp.RunID)
			if resp.Error != "" {
				fmt.Fprintf(out, "  Error: %s\n", resp.Error)
			}
			if code := runner.ExitCode(report, strict); code != 0 {
				return &ExitError{Code: code, Msg: fmt.Sprintf("remote run %s finished %s", resp.RunID, resp.Outcome)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&function, "function", "f", "stagehand-runner", "runner function name or ARN")
	cmd.Flags().StringVar(&ref.Repository, "repository", "", "repository name passed as GIT_REPOSITORY")
	cmd.Flags().StringVar(&ref.Branch, "branch", "", "branch passed as GIT_BRANCH")
	cmd.Flags().StringVar(&ref.Commit, "commit", "", "commit passed as GIT_COMMIT")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the run to finish")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 3 when a continueOnFailure stage failed")
	return cmd
}

func newRemoteScheduleCmd(region *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring runs",
	}

	var s trigger.Schedule
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.Name = args[0]
			created, err := trigger.New(trigger.WithRegion(*region)).PutSchedule(cmd.Context(), s)
			if err != nil {
				return err
			}
			verb := "Updated"
			if created {
				verb = "Created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schedule %s: %s\n", verb, s.Name, s.Expression)
			return nil
		},
	}
	set.Flags().StringVar(&s.Expression, "expr", "", `schedule expression, e.g. "cron(0 2 * * ? *)"`)
	set.Flags().StringVar(&s.Timezone, "tz", "", "IANA timezone for cron expressions")
	set.Flags().StringVar(&s.FunctionArn, "function-arn", "", "runner function ARN")
	set.Flags().StringVar(&s.RoleArn, "role-arn", "", "role assumed by EventBridge Scheduler")
	set.Flags().StringVar(&s.Ref.Branch, "branch", "", "branch passed as GIT_BRANCH")
	_ = set.MarkFlagRequired("expr")
	_ = set.MarkFlagRequired("function-arn")
	_ = set.MarkFlagRequired("role-arn")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := trigger.New(trigger.WithRegion(*region)).DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
