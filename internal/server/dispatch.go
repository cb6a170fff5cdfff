package server

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/dwsmith1983/stagehand/internal/runner"
	"github.com/dwsmith1983/stagehand/internal/server/handlers"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = handlers.ErrRunInProgress

// Executor runs a pipeline to completion and reports live status.
type Executor interface {
	Execute(ctx context.Context, spec types.PipelineSpec) (*types.RunReport, error)
	Status() (runID string, status types.RunStatus, stage string)
}

// Dispatcher starts runs in the background, one at a time.
type Dispatcher struct {
	exec   Executor
	spec   types.PipelineSpec
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	busy bool
}

// NewDispatcher creates a dispatcher for spec.
func NewDispatcher(exec Executor, spec types.PipelineSpec, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{exec: exec, spec: spec, logger: logger, ctx: ctx, cancel: cancel}
}

// Start launches a run with env layered over the pipeline environment and
// returns its run ID without waiting for it to finish.
func (d *Dispatcher) Start(env map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return "", ErrBusy
	}
	if err := d.ctx.Err(); err != nil {
		return "", err
	}
	d.busy = true

	spec := d.spec
	if len(env) > 0 {
		merged := make(map[string]string, len(spec.Environment)+len(env))
		maps.Copy(merged, spec.Environment)
		maps.Copy(merged, env)
		spec.Environment = merged
	}

	runID := runner.NewRunID()
	ctx := runner.ContextWithRunID(d.ctx, runID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			d.busy = false
			d.mu.Unlock()
		}()
		report, err := d.exec.Execute(ctx, spec)
		if err != nil {
			d.logger.Warn("run finished with notification errors", "runId", runID, "error", err)
		}
		d.logger.Info("background run finished", "runId", runID, "outcome", report.Outcome)
	}()
	return runID, nil
}

// Busy reports whether a run is in progress.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Status returns the executor's live lifecycle state.
func (d *Dispatcher) Status() (string, types.RunStatus, string) {
	return d.exec.Status()
}

// Shutdown cancels any in-flight run and waits for it to finalize, or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
