package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// ConsoleSink prints the run summary to a terminal with color.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink creates a console sink writing to w, or stdout when nil.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleSink{w: w}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes the subject, per-stage lines, and any warnings.
func (s *ConsoleSink) Send(_ context.Context, msg *types.Message) error {
	var prefix string
	switch msg.Report.Outcome {
	case types.OutcomeSuccess:
		prefix = color.GreenString("[SUCCESS]")
		if msg.Report.Degraded {
			prefix = color.YellowString("[SUCCESS]")
		}
	case types.OutcomeAborted:
		prefix = color.RedString("[ABORTED]")
	default:
		prefix = color.RedString("[FAILED]")
	}

	if _, err := fmt.Fprintf(s.w, "%s %s\n", prefix, msg.Subject); err != nil {
		return err
	}
	for _, st := range msg.Report.Stages {
		mark := color.GreenString("ok")
		if st.Status == types.StageFailed {
			mark = color.RedString("FAILED (exit %d)", st.ExitStatus)
			if st.ContinueOnFailure {
				mark = color.YellowString("FAILED (exit %d, allowed)", st.ExitStatus)
			}
		}
		fmt.Fprintf(s.w, "  %-28s %s  %s\n", st.Name, mark, formatDuration(st.Duration()))
	}
	if msg.Report.Error != "" {
		fmt.Fprintf(s.w, "  %s %s\n", color.RedString("error:"), msg.Report.Error)
	}
	if msg.Report.LogURL != "" {
		fmt.Fprintf(s.w, "  log: %s\n", msg.Report.LogURL)
	}
	for _, w := range msg.Warnings {
		fmt.Fprintf(s.w, "  %s %s\n", color.YellowString("warning:"), w)
	}
	return nil
}
