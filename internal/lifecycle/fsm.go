// Package lifecycle implements the pipeline run state machine.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// from -> allowed tos
var validTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunPending:   {types.RunResolving, types.RunFailed},
	types.RunResolving: {types.RunRunning, types.RunFailed},
	types.RunRunning:   {types.RunSucceeded, types.RunFailed, types.RunAborted},
	types.RunSucceeded: {},
	types.RunFailed:    {},
	types.RunAborted:   {},
}

// CanTransition checks if transitioning from one run status to another is valid.
func CanTransition(from, to types.RunStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns an error if moving from -> to is not allowed.
func Transition(from, to types.RunStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.RunStatus) bool {
	return status == types.RunSucceeded || status == types.RunFailed || status == types.RunAborted
}

// StatusFor maps a finalized run outcome to its terminal lifecycle state.
func StatusFor(o types.Outcome) types.RunStatus {
	switch o {
	case types.OutcomeSuccess:
		return types.RunSucceeded
	case types.OutcomeAborted:
		return types.RunAborted
	default:
		return types.RunFailed
	}
}

// Tracker holds the current state of a single run and rejects invalid moves.
// It is safe for concurrent readers.
type Tracker struct {
	mu      sync.RWMutex
	current types.RunStatus
	stage   string
}

// NewTracker returns a tracker in the PENDING state.
func NewTracker() *Tracker {
	return &Tracker{current: types.RunPending}
}

// Current returns the current state and the stage being executed, if any.
func (t *Tracker) Current() (types.RunStatus, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.stage
}

// Advance moves the tracker to the given state.
func (t *Tracker) Advance(to types.RunStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := Transition(t.current, to); err != nil {
		return err
	}
	t.current = to
	if IsTerminal(to) {
		t.stage = ""
	}
	return nil
}

// SetStage records the stage currently executing. Only valid while RUNNING.
func (t *Tracker) SetStage(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == types.RunRunning {
		t.stage = name
	}
}
