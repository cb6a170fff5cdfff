package lambda

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// HandleTrigger runs the pipeline for one EventBridge event. Reference
// deletions are acknowledged without running anything.
func HandleTrigger(ctx context.Context, d *Deps, spec types.PipelineSpec, evt TriggerEvent) (RunResponse, error) {
	logger := d.Logger.With("eventId", evt.ID, "source", evt.Source)

	var ref ReferenceChange
	if len(evt.Detail) > 0 {
		if err := json.Unmarshal(evt.Detail, &ref); err != nil {
			return RunResponse{}, fmt.Errorf("decoding event detail: %w", err)
		}
	}
	if ref.Event == "referenceDeleted" {
		logger.Info("reference deleted, skipping run", "reference", ref.ReferenceName)
		return RunResponse{Pipeline: spec.Name, Skipped: true}, nil
	}

	spec = withGitRef(spec, ref)
	logger.Info("starting run", "pipeline", spec.Name, "repository", ref.RepositoryName,
		"reference", ref.ReferenceName, "commit", ref.CommitID)

	report, err := d.Executor.Execute(ctx, spec)
	if err != nil {
		// The run outcome stands; a failed notification is logged, not retried.
		logger.Warn("notification failed", "runId", report.RunID, "error", err)
	}
	resp := RunResponse{
		RunID:       report.RunID,
		Pipeline:    report.Pipeline,
		BuildNumber: report.BuildNumber,
		Outcome:     report.Outcome,
		Degraded:    report.Degraded,
		Error:       report.Error,
	}
	return resp, nil
}

// withGitRef copies spec with the event's repository coordinates layered over
// the pipeline environment.
func withGitRef(spec types.PipelineSpec, ref ReferenceChange) types.PipelineSpec {
	env := make(map[string]string, len(spec.Environment)+3)
	maps.Copy(env, spec.Environment)
	if ref.ReferenceType == "branch" && ref.ReferenceName != "" {
		env["GIT_BRANCH"] = ref.ReferenceName
	}
	if ref.ReferenceType == "tag" && ref.ReferenceName != "" {
		env["GIT_TAG"] = ref.ReferenceName
	}
	if ref.CommitID != "" {
		env["GIT_COMMIT"] = ref.CommitID
	}
	if ref.RepositoryName != "" {
		env["GIT_REPOSITORY"] = ref.RepositoryName
	}
	spec.Environment = env
	return spec
}
