package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dwsmith1983/stagehand/internal/executor"
	"github.com/dwsmith1983/stagehand/internal/logstore"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// StageExecutionError reports a stage whose command exited non-zero.
type StageExecutionError struct {
	Stage    string
	ExitCode int
	Category types.FailureCategory
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %q exited with status %d (%s)", e.Stage, e.ExitCode, e.Category)
}

// runStage executes one stage and builds its result. The returned error is
// set only when the stage could not be run at all; a non-zero exit is
// reported through the result.
func (r *Runner) runStage(ctx context.Context, st *run, index int, stage types.StageSpec, env []string, defaultTimeout time.Duration, logger *slog.Logger) (types.StageResult, error) {
	ctx, span := r.telemetry.StartStage(ctx, stage.Name)
	defer span.End()

	runID := st.report.RunID
	res := types.StageResult{
		Name:              stage.Name,
		ContinueOnFailure: stage.ContinueOnFailure,
		StartTime:         time.Now().UTC(),
	}
	fail := func(category types.FailureCategory, err error) (types.StageResult, error) {
		res.EndTime = time.Now().UTC()
		res.Status = types.StageFailed
		res.ExitStatus = -1
		res.FailureCategory = category
		res.Error = st.masker.String(err.Error())
		r.telemetry.RecordStage(ctx, span, st.report.Pipeline, &res)
		return res, err
	}

	timeout := defaultTimeout
	if stage.Timeout != "" {
		d, err := time.ParseDuration(stage.Timeout)
		if err != nil {
			return fail(types.FailurePermanent, fmt.Errorf("stage %q: invalid timeout %q: %w", stage.Name, stage.Timeout, err))
		}
		timeout = d
	}

	var stageLog *logstore.StageLog
	if r.logs != nil {
		l, err := r.logs.Open(runID, index+1, stage.Name)
		if err != nil {
			logger.Warn("stage log unavailable", "stage", stage.Name, "error", err)
		} else {
			stageLog = l
		}
	}

	logger.Info("stage started", "stage", stage.Name, "index", index+1)
	// Masking sits in front of both the log file and the captured tail.
	cmd := executor.Command{
		Script:      stage.Command,
		Dir:         r.stageDir(stage.Dir),
		Env:         env,
		Timeout:     timeout,
		GracePeriod: r.cfg.GracePeriod,
		MaxCapture:  r.cfg.MaxCapture,
		Filter:      st.masker.Writer,
	}
	if stageLog != nil {
		cmd.Output = stageLog
	}
	result, runErr := executor.Run(ctx, cmd)

	if stageLog != nil {
		sum, err := r.logs.Finish(ctx, runID, stageLog)
		if err != nil {
			logger.Warn("closing stage log", "stage", stage.Name, "error", err)
		} else {
			res.LogPath = stageLog.Path
			res.LogSHA256 = sum
		}
	}

	if runErr != nil {
		var startErr *executor.StartError
		if errors.As(runErr, &startErr) {
			return fail(types.FailureStart, fmt.Errorf("stage %q: %w", stage.Name, runErr))
		}
		return fail(types.FailurePermanent, fmt.Errorf("stage %q: %w", stage.Name, runErr))
	}

	res.StartTime = result.Started.UTC()
	res.EndTime = result.Finished.UTC()
	res.ExitStatus = result.ExitCode
	res.CapturedOutput = result.Output
	res.OutputTruncated = result.Truncated
	if result.OutputLeftOpen {
		logger.Warn("stage left a background process holding its output; terminated it", "stage", stage.Name)
	}
	if result.ExitCode == 0 && result.Category == "" {
		res.Status = types.StagePassed
	} else {
		res.Status = types.StageFailed
		res.FailureCategory = result.Category
		res.Error = (&StageExecutionError{Stage: stage.Name, ExitCode: result.ExitCode, Category: result.Category}).Error()
	}
	r.telemetry.RecordStage(ctx, span, st.report.Pipeline, &res)
	logger.Info("stage finished",
		"stage", stage.Name,
		"status", res.Status,
		"exit", res.ExitStatus,
		"duration", res.Duration().String(),
	)
	return res, nil
}

func (r *Runner) stageDir(dir string) string {
	switch {
	case dir == "":
		return r.cfg.Workspace
	case filepath.IsAbs(dir) || r.cfg.Workspace == "":
		return dir
	default:
		return filepath.Join(r.cfg.Workspace, dir)
	}
}

func pipelineTimeout(spec types.PipelineSpec, fallback time.Duration) (time.Duration, error) {
	if spec.DefaultTimeout == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(spec.DefaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid pipeline defaultTimeout %q: %w", spec.DefaultTimeout, err)
	}
	return d, nil
}
