package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// Execute runs spec, persists the report, and notifies exactly once on every
// exit path, including a panic inside the run. The returned error is the
// notification error, if any; the report outcome is never changed by it.
func (r *Runner) Execute(ctx context.Context, spec types.PipelineSpec) (*types.RunReport, error) {
	report := r.safeRun(ctx, spec)

	// Delivery must outlive a cancelled run.
	post := context.WithoutCancel(ctx)
	r.persist(post, report)
	return report, r.notify(post, report)
}

func (r *Runner) safeRun(ctx context.Context, spec types.PipelineSpec) (report *types.RunReport) {
	st := r.begin(ctx, spec)
	defer func() {
		if p := recover(); p != nil {
			logger := r.logger.With("pipeline", spec.Name, "runId", st.report.RunID)
			logger.Error("run panicked", "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			r.finalize(st, types.OutcomeFailed, fmt.Sprintf("internal error: %v", p), logger)
			r.recordRun(ctx, trace.SpanFromContext(ctx), st)
			report = st.report
		}
	}()
	r.execute(ctx, spec, st)
	return st.report
}

func (r *Runner) persist(ctx context.Context, report *types.RunReport) {
	if r.store == nil {
		return
	}
	if err := r.store.PutReport(ctx, *report); err != nil {
		r.logger.Error("persisting run report", "runId", report.RunID, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, report *types.RunReport) error {
	if r.notifier == nil {
		return nil
	}
	if err := r.notifier.Notify(ctx, report); err != nil {
		r.logger.Error("notification failed", "runId", report.RunID, "outcome", report.Outcome, "error", err)
		return err
	}
	return nil
}

// ExitCode maps a finalized report to the process exit status. Strict mode
// also fails a SUCCESS run in which a continueOnFailure stage failed.
func ExitCode(report *types.RunReport, strict bool) int {
	switch {
	case report.Outcome == types.OutcomeAborted:
		return 1
	case report.Outcome == types.OutcomeFailed:
		return 2
	case strict && report.Degraded:
		return 3
	default:
		return 0
	}
}
