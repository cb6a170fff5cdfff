// Package storetest provides shared conformance tests for store.Store
// implementations. Call RunAll from a test function to verify a backend
// satisfies the full behavioral contract.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/internal/store"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// RunAll runs the complete store conformance suite as subtests.
func RunAll(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("BuildNumbers", func(t *testing.T) { TestBuildNumbers(t, s) })
	t.Run("ReportPutGet", func(t *testing.T) { TestReportPutGet(t, s) })
	t.Run("ReportNotFound", func(t *testing.T) { TestReportNotFound(t, s) })
	t.Run("ReportList", func(t *testing.T) { TestReportList(t, s) })
}

// TestBuildNumbers verifies numbers start at 1, increase, and are per pipeline.
func TestBuildNumbers(t *testing.T, s store.Store) {
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.NextBuildNumber(ctx, "ct-build")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := s.NextBuildNumber(ctx, "ct-build-other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestReportPutGet verifies a stored report round-trips with its stages.
func TestReportPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	report := types.RunReport{
		RunID:       "ct-run-1",
		Pipeline:    "ct-pipeline",
		BuildNumber: 7,
		Outcome:     types.OutcomeAborted,
		Stages: []types.StageResult{
			{Name: "checkout", Status: types.StagePassed, StartTime: started, EndTime: started.Add(time.Second)},
			{Name: "build", Status: types.StageFailed, ExitStatus: 2, FailureCategory: types.FailurePermanent},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		LogURL:     "/tmp/logs/ct-run-1",
	}
	require.NoError(t, s.PutReport(ctx, report))

	got, err := s.GetReport(ctx, "ct-run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.OutcomeAborted, got.Outcome)
	assert.Equal(t, int64(7), got.BuildNumber)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "build", got.Stages[1].Name)
	assert.Equal(t, 2, got.Stages[1].ExitStatus)
	assert.True(t, got.StartedAt.Equal(started))
}

// TestReportNotFound verifies unknown runs return nil without error.
func TestReportNotFound(t *testing.T, s store.Store) {
	got, err := s.GetReport(context.Background(), "ct-missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestReportList verifies newest-first ordering, pipeline filtering, and limits.
func TestReportList(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutReport(ctx, types.RunReport{
			RunID:     fmt.Sprintf("ct-list-%d", i),
			Pipeline:  "ct-list",
			Outcome:   types.OutcomeSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.PutReport(ctx, types.RunReport{
		RunID:     "ct-list-other",
		Pipeline:  "ct-list-other",
		StartedAt: base.Add(time.Hour),
	}))

	got, err := s.ListReports(ctx, "ct-list", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ct-list-4", got[0].RunID)
	assert.Equal(t, "ct-list-3", got[1].RunID)
	assert.Equal(t, "ct-list-2", got[2].RunID)
	for _, r := range got {
		assert.Equal(t, "ct-list", r.Pipeline)
	}
}
