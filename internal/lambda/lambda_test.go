package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

type fakeExecutor struct {
	calls []types.PipelineSpec
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, spec types.PipelineSpec) (*types.RunReport, error) {
	f.calls = append(f.calls, spec)
	return &types.RunReport{
		RunID:       "01HRUN",
		Pipeline:    spec.Name,
		BuildNumber: 7,
		Outcome:     types.OutcomeSuccess,
		Degraded:    true,
	}, f.err
}

func testDeps(exec PipelineExecutor) *Deps {
	return &Deps{Executor: exec, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestApplyOverrides(t *testing.T) {
	cfg := &types.ProjectConfig{Workspace: "/var/task"}
	err := applyOverrides(cfg, env(map[string]string{
		"AWS_REGION":    "eu-west-1",
		"TABLE_NAME":    "stagehand-runs",
		"SNS_TOPIC_ARN": "arn:aws:sns:eu-west-1:123:builds",
		"LOG_BUCKET":    "build-logs",
		"LOG_GROUP":     "/stagehand/video-app",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/workspace", cfg.Workspace)
	require.NotNil(t, cfg.Store)
	assert.Equal(t, types.StoreDynamoDB, cfg.Store.Type)
	assert.Equal(t, "stagehand-runs", cfg.Store.DynamoDB.TableName)
	assert.Equal(t, "eu-west-1", cfg.Store.DynamoDB.Region)
	assert.Equal(t, "2160h", cfg.Store.DynamoDB.RetentionTTL)

	require.Len(t, cfg.Notify.Sinks, 1)
	assert.Equal(t, types.SinkSNS, cfg.Notify.Sinks[0].Type)
	assert.Equal(t, "build-logs", cfg.Logs.S3.Bucket)
	assert.Equal(t, "/stagehand/video-app", cfg.Logs.CloudWatch.LogGroup)
}

func TestApplyOverrides_RequiresRemoteStore(t *testing.T) {
	err := applyOverrides(&types.ProjectConfig{}, env(nil))
	assert.ErrorContains(t, err, "TABLE_NAME")

	cfg := &types.ProjectConfig{Store: &types.StoreConfig{Type: types.StoreNone}}
	require.NoError(t, applyOverrides(cfg, env(map[string]string{"WORKSPACE": "/mnt/efs/ws"})))
	assert.Equal(t, "/mnt/efs/ws", cfg.Workspace)
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "custom")
	assert.Equal(t, "custom", envOrDefault("TEST_KEY", "fallback"))

	t.Setenv("TEST_KEY", "")
	assert.Equal(t, "fallback", envOrDefault("TEST_KEY", "fallback"))
}

func pushEvent(t *testing.T, ref ReferenceChange) TriggerEvent {
	t.Helper()
	detail, err := json.Marshal(ref)
	require.NoError(t, err)
	return TriggerEvent{ID: "evt-1", Source: "aws.codecommit", Detail: detail}
}

func TestHandleTrigger_BranchPush(t *testing.T) {
	exec := &fakeExecutor{}
	spec := types.PipelineSpec{Name: "video-app", Environment: map[string]string{"IMAGE_REPO": "acme/video-app"}}

	resp, err := HandleTrigger(context.Background(), testDeps(exec), spec, pushEvent(t, ReferenceChange{
		Event:          "referenceUpdated",
		RepositoryName: "video-app",
		ReferenceType:  "branch",
		ReferenceName:  "main",
		CommitID:       "abc123",
	}))
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	got := exec.calls[0].Environment
	assert.Equal(t, "main", got["GIT_BRANCH"])
	assert.Equal(t, "abc123", got["GIT_COMMIT"])
	assert.Equal(t, "video-app", got["GIT_REPOSITORY"])
	assert.Equal(t, "acme/video-app", got["IMAGE_REPO"])
	assert.NotContains(t, spec.Environment, "GIT_BRANCH")

	assert.Equal(t, "01HRUN", resp.RunID)
	assert.Equal(t, int64(7), resp.BuildNumber)
	assert.Equal(t, types.OutcomeSuccess, resp.Outcome)
	assert.True(t, resp.Degraded)
}

func TestHandleTrigger_ReferenceDeleted(t *testing.T) {
	exec := &fakeExecutor{}
	resp, err := HandleTrigger(context.Background(), testDeps(exec), types.PipelineSpec{Name: "p"},
		pushEvent(t, ReferenceChange{Event: "referenceDeleted", ReferenceType: "branch", ReferenceName: "feature"}))
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
	assert.Empty(t, exec.calls)
}

func TestHandleTrigger_NotificationErrorKeepsOutcome(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("smtp: connection refused")}
	resp, err := HandleTrigger(context.Background(), testDeps(exec), types.PipelineSpec{Name: "p"}, TriggerEvent{ID: "scheduled"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, resp.Outcome)
}

func TestHandleTrigger_BadDetail(t *testing.T) {
	_, err := HandleTrigger(context.Background(), testDeps(&fakeExecutor{}), types.PipelineSpec{Name: "p"},
		TriggerEvent{Detail: json.RawMessage(`"not an object"`)})
	assert.ErrorContains(t, err, "decoding event detail")
}
