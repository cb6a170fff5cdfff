// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"context"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// PipelineExecutor runs a pipeline with guaranteed notification.
type PipelineExecutor interface {
	Execute(ctx context.Context, spec types.PipelineSpec) (*types.RunReport, error)
}

// TriggerEvent is the EventBridge envelope delivered to the runner Lambda.
type TriggerEvent = events.CloudWatchEvent

// ReferenceChange is the detail of a CodeCommit "Repository State Change"
// event. Only the fields used to label a run are decoded.
type ReferenceChange struct {
	Event          string `json:"event"`
	RepositoryName string `json:"repositoryName"`
	ReferenceType  string `json:"referenceType"`
	ReferenceName  string `json:"referenceName"`
	CommitID       string `json:"commitId"`
}

// RunResponse is returned to the invoker once the run has been reported.
type RunResponse struct {
	RunID       string        `json:"runId"`
	Pipeline    string        `json:"pipeline"`
	BuildNumber int64         `json:"buildNumber"`
	Outcome     types.Outcome `json:"outcome"`
	Degraded    bool          `json:"degraded,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
	Error       string        `json:"error,omitempty"`
}
