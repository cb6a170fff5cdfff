// Package executor runs a single stage command as a shell subprocess.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

const (
	defaultGracePeriod = 5 * time.Second
	// DefaultMaxCapture bounds the output kept in memory per stage. Full
	// output goes to Command.Output.
	DefaultMaxCapture = 64 * 1024
)

// Command configures a stage subprocess.
type Command struct {
	// Script is passed to sh -c.
	Script string
	Dir    string
	// Env is the complete process environment. The parent environment is
	// never inherited implicitly.
	Env []string
	// Timeout bounds the run. Zero means no timeout.
	Timeout time.Duration
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// Output receives combined stdout and stderr as it is produced. May be nil.
	Output io.Writer
	// MaxCapture limits Result.Output. Defaults to DefaultMaxCapture.
	MaxCapture int
	// Filter, when set, wraps the combined output stream before it reaches
	// both Output and Result.Output. It is closed once the process exits.
	Filter func(io.Writer) io.WriteCloser
}

// Result holds the outcome of a completed subprocess.
type Result struct {
	ExitCode  int
	Output    string
	Truncated bool
	Category  types.FailureCategory // empty on success
	// OutputLeftOpen is set when the shell exited but a background child
	// kept the output pipe open past the grace period. The child's process
	// group is sent SIGTERM.
	OutputLeftOpen bool
	Started   time.Time
	Finished  time.Time
}

// StartError is returned when the process could not be started at all.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "starting stage process: " + e.Err.Error() }

func (e *StartError) Unwrap() error { return e.Err }

// Run executes cmd.Script with sh -c and waits for it to exit. A non-zero
// exit is reported through Result, not as an error. The error is non-nil only
// when the process could not be started.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Script == "" {
		return nil, fmt.Errorf("executor: script is required")
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	grace := cmd.GracePeriod
	if grace == 0 {
		grace = defaultGracePeriod
	}

	tail := newTailBuffer(cmd.MaxCapture)
	var out io.Writer = tail
	if cmd.Output != nil {
		out = io.MultiWriter(tail, cmd.Output)
	}
	var filter io.WriteCloser
	if cmd.Filter != nil {
		filter = cmd.Filter(out)
		out = filter
	}
	closeFilter := func() {
		if filter != nil {
			_ = filter.Close()
		}
	}

	c := exec.CommandContext(ctx, "sh", "-c", cmd.Script) //nolint:gosec // running configured commands is the point
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	if c.Env == nil {
		c.Env = []string{}
	}
	c.Stdout = out
	c.Stderr = out
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = grace

	res := &Result{Started: time.Now()}
	if err := c.Start(); err != nil {
		res.Finished = time.Now()
		res.ExitCode = -1
		res.Category = types.FailureStart
		closeFilter()
		return res, &StartError{Err: err}
	}
	err := c.Wait()
	res.Finished = time.Now()
	closeFilter()
	res.Output, res.Truncated = tail.String()
	res.ExitCode = exitCode(c.ProcessState)

	if errors.Is(err, exec.ErrWaitDelay) && res.ExitCode == 0 && ctx.Err() == nil {
		res.OutputLeftOpen = true
		_ = syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
		err = nil
	}
	if err != nil || res.ExitCode != 0 {
		res.Category = classifyExitError(ctx, err, res.ExitCode)
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	}
	return res, nil
}

// exitCode reports the shell convention of 128+signal for signalled processes.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// classifyExitError categorizes a subprocess failure.
func classifyExitError(ctx context.Context, err error, code int) types.FailureCategory {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.FailureTimeout
	}
	switch {
	case code == 2:
		return types.FailurePermanent
	case code >= 128:
		return types.FailureCrash
	default:
		return types.FailureTransient
	}
}
