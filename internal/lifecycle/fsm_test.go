package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.RunStatus
		to    types.RunStatus
		valid bool
	}{
		{types.RunPending, types.RunResolving, true},
		{types.RunPending, types.RunFailed, true},
		{types.RunPending, types.RunRunning, false},
		{types.RunResolving, types.RunRunning, true},
		{types.RunResolving, types.RunFailed, true},
		{types.RunResolving, types.RunAborted, false},
		{types.RunRunning, types.RunSucceeded, true},
		{types.RunRunning, types.RunAborted, true},
		{types.RunRunning, types.RunFailed, true},
		{types.RunRunning, types.RunPending, false},
		{types.RunSucceeded, types.RunFailed, false},
		{types.RunAborted, types.RunRunning, false},
		{types.RunFailed, types.RunPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.RunSucceeded))
	assert.True(t, IsTerminal(types.RunFailed))
	assert.True(t, IsTerminal(types.RunAborted))
	assert.False(t, IsTerminal(types.RunPending))
	assert.False(t, IsTerminal(types.RunResolving))
	assert.False(t, IsTerminal(types.RunRunning))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, types.RunSucceeded, StatusFor(types.OutcomeSuccess))
	assert.Equal(t, types.RunAborted, StatusFor(types.OutcomeAborted))
	assert.Equal(t, types.RunFailed, StatusFor(types.OutcomeFailed))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	st, _ := tr.Current()
	assert.Equal(t, types.RunPending, st)

	tr.SetStage("ignored")
	_, stage := tr.Current()
	assert.Empty(t, stage)

	require.NoError(t, tr.Advance(types.RunResolving))
	require.NoError(t, tr.Advance(types.RunRunning))
	tr.SetStage("build")
	st, stage = tr.Current()
	assert.Equal(t, types.RunRunning, st)
	assert.Equal(t, "build", stage)

	assert.Error(t, tr.Advance(types.RunPending))

	require.NoError(t, tr.Advance(types.RunAborted))
	st, stage = tr.Current()
	assert.Equal(t, types.RunAborted, st)
	assert.Empty(t, stage)
}
