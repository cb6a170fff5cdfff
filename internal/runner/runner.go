// Package runner executes a pipeline's stages in order and produces the
// finalized RunReport.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/stagehand/internal/lifecycle"
	"github.com/dwsmith1983/stagehand/internal/logstore"
	"github.com/dwsmith1983/stagehand/internal/metrics"
	"github.com/dwsmith1983/stagehand/internal/secrets"
	"github.com/dwsmith1983/stagehand/internal/store"
	"github.com/dwsmith1983/stagehand/internal/toolchain"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// Config is the immutable runtime configuration of a Runner.
type Config struct {
	// Workspace is the working directory of every stage. Relative stage dirs
	// resolve against it.
	Workspace string
	// BaseEnv is the environment every stage starts from. Nothing is
	// inherited from the runner process implicitly.
	BaseEnv []string
	// DefaultTimeout applies to stages without their own or a pipeline
	// timeout. Zero means no limit.
	DefaultTimeout time.Duration
	// GracePeriod is how long a timed-out stage gets between SIGTERM and SIGKILL.
	GracePeriod time.Duration
	// MaxCapture bounds the output retained in each StageResult.
	MaxCapture int
	Logger     *slog.Logger
}

// ToolResolver resolves tool names to installed tools.
type ToolResolver interface {
	ResolveAll(names []string) ([]toolchain.Tool, error)
}

// SecretResolver fetches secret values keyed by environment variable.
type SecretResolver interface {
	Resolve(ctx context.Context, bindings []types.SecretBinding) (map[string]string, error)
}

// Notifier delivers the post-run notification.
type Notifier interface {
	Notify(ctx context.Context, report *types.RunReport) error
}

// Runner runs pipelines one stage at a time.
type Runner struct {
	cfg       Config
	logger    *slog.Logger
	tools     ToolResolver
	secrets   SecretResolver
	bindings  []types.SecretBinding
	logs      *logstore.Store
	store     store.Store
	notifier  Notifier
	telemetry *metrics.Telemetry

	mu      sync.RWMutex
	tracker *lifecycle.Tracker
	runID   string
}

// Option configures a Runner's collaborators.
type Option func(*Runner)

// WithTools sets the tool registry. Without one, any tool reference fails
// with ToolNotFoundError.
func WithTools(t ToolResolver) Option {
	return func(r *Runner) { r.tools = t }
}

// WithSecrets injects secret bindings resolved before the first stage.
func WithSecrets(s SecretResolver, bindings []types.SecretBinding) Option {
	return func(r *Runner) {
		r.secrets = s
		r.bindings = bindings
	}
}

// WithLogStore tees stage output into per-run log files.
func WithLogStore(s *logstore.Store) Option {
	return func(r *Runner) { r.logs = s }
}

// WithStore persists finalized reports and allocates build numbers.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithNotifier sets the post-run notifier used by Execute.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithTelemetry sets the tracer and metric instruments.
func WithTelemetry(t *metrics.Telemetry) Option {
	return func(r *Runner) { r.telemetry = t }
}

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseEnv = append([]string(nil), cfg.BaseEnv...)
	r := &Runner{cfg: cfg, logger: logger}
	for _, o := range opts {
		o(r)
	}
	if r.telemetry == nil {
		r.telemetry = metrics.Noop()
	}
	return r
}

// Status reports the lifecycle state of the current or most recent run.
func (r *Runner) Status() (runID string, status types.RunStatus, stage string) {
	r.mu.RLock()
	t, id := r.tracker, r.runID
	r.mu.RUnlock()
	if t == nil {
		return "", "", ""
	}
	status, stage = t.Current()
	return id, status, stage
}

// run is the mutable state of one in-flight run. Only the goroutine that
// owns it touches report until finalize.
type run struct {
	report  *types.RunReport
	tracker *lifecycle.Tracker
	masker   *secrets.Masker
	done     bool
	recorded bool
}

type runIDKey struct{}

// ContextWithRunID makes the next run started with ctx use id instead of a
// generated ULID.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

func (r *Runner) begin(ctx context.Context, spec types.PipelineSpec) *run {
	id, _ := ctx.Value(runIDKey{}).(string)
	if id == "" {
		id = NewRunID()
	}
	st := &run{
		report: &types.RunReport{
			RunID:     id,
			Pipeline:  spec.Name,
			Stages:    []types.StageResult{},
			StartedAt: time.Now().UTC(),
		},
		tracker: lifecycle.NewTracker(),
	}
	r.mu.Lock()
	r.tracker, r.runID = st.tracker, st.report.RunID
	r.mu.Unlock()
	return st
}

// Run executes spec and returns the finalized report. It never returns nil.
// Stage failures are reflected in the report outcome, not as errors.
func (r *Runner) Run(ctx context.Context, spec types.PipelineSpec) *types.RunReport {
	st := r.begin(ctx, spec)
	r.execute(ctx, spec, st)
	return st.report
}

func (r *Runner) execute(ctx context.Context, spec types.PipelineSpec, st *run) {
	ctx, span := r.telemetry.StartRun(ctx, spec.Name, st.report.RunID)
	defer span.End()
	defer func() {
		if st.done {
			r.recordRun(ctx, span, st)
		}
	}()

	logger := r.logger.With("pipeline", spec.Name, "runId", st.report.RunID)
	st.report.BuildNumber = r.buildNumber(ctx, spec.Name, logger)
	logger = logger.With("build", st.report.BuildNumber)
	logger.Info("run started", "stages", len(spec.Stages))

	r.advance(st, types.RunResolving, logger)
	tools, env, err := r.prepare(ctx, spec, st)
	if err != nil {
		logger.Error("run setup failed", "error", err)
		r.finalize(st, types.OutcomeFailed, err.Error(), logger)
		return
	}
	r.advance(st, types.RunRunning, logger)

	defaultTimeout, err := pipelineTimeout(spec, r.cfg.DefaultTimeout)
	if err != nil {
		r.finalize(st, types.OutcomeFailed, err.Error(), logger)
		return
	}

	for i, stage := range spec.Stages {
		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("run cancelled before stage %q: %v", stage.Name, err)
			logger.Warn("run cancelled", "stage", stage.Name, "error", err)
			r.finalize(st, types.OutcomeFailed, msg, logger)
			return
		}
		st.tracker.SetStage(stage.Name)

		res, err := r.runStage(ctx, st, i, stage, stageEnv(env, tools, stage), defaultTimeout, logger)
		st.report.Stages = append(st.report.Stages, res)
		if err != nil {
			logger.Error("stage could not run", "stage", stage.Name, "error", err)
			r.finalize(st, types.OutcomeFailed, err.Error(), logger)
			return
		}
		if res.Status == types.StagePassed {
			continue
		}
		if ctx.Err() != nil {
			msg := fmt.Sprintf("run cancelled during stage %q: %v", stage.Name, ctx.Err())
			r.finalize(st, types.OutcomeFailed, msg, logger)
			return
		}
		if res.ContinueOnFailure {
			st.report.Degraded = true
			logger.Warn("stage failed, continuing", "stage", stage.Name, "exit", res.ExitStatus)
			continue
		}
		logger.Error("stage failed, aborting run", "stage", stage.Name, "exit", res.ExitStatus)
		r.finalize(st, types.OutcomeAborted, res.Error, logger)
		return
	}
	r.finalize(st, types.OutcomeSuccess, "", logger)
}

// prepare resolves tools and secrets and builds the pipeline environment.
func (r *Runner) prepare(ctx context.Context, spec types.PipelineSpec, st *run) (map[string]toolchain.Tool, []string, error) {
	resolved, err := r.resolveTools(spec.ToolNames())
	if err != nil {
		return nil, nil, err
	}
	tools := make(map[string]toolchain.Tool, len(resolved))
	for _, t := range resolved {
		tools[t.Name] = t
	}

	var secretVals map[string]string
	if len(r.bindings) > 0 {
		if r.secrets == nil {
			return nil, nil, fmt.Errorf("secrets configured but no secret resolver available")
		}
		secretVals, err = r.secrets.Resolve(ctx, r.bindings)
		if err != nil {
			return nil, nil, err
		}
	}
	values := make([]string, 0, len(secretVals))
	for _, v := range secretVals {
		values = append(values, v)
	}
	st.masker = secrets.NewMasker(values)

	env := overlay(r.cfg.BaseEnv, spec.Environment)
	env = overlay(env, secretVals)
	env = overlay(env, map[string]string{
		"STAGEHAND_RUN_ID":   st.report.RunID,
		"STAGEHAND_PIPELINE": spec.Name,
		"BUILD_NUMBER":       strconv.FormatInt(st.report.BuildNumber, 10),
	})
	if r.cfg.Workspace != "" {
		env = overlay(env, map[string]string{"WORKSPACE": r.cfg.Workspace})
	}

	pipelineTools := make([]toolchain.Tool, 0, len(spec.Tools))
	for _, name := range spec.Tools {
		pipelineTools = append(pipelineTools, tools[name])
	}
	return tools, toolchain.Environ(env, pipelineTools), nil
}

func (r *Runner) resolveTools(names []string) ([]toolchain.Tool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if r.tools == nil {
		return nil, &toolchain.ToolNotFoundError{Name: names[0]}
	}
	return r.tools.ResolveAll(names)
}

// buildNumber honours a BUILD_NUMBER from the base environment, otherwise
// allocates one from the store. Allocation failures leave the number at 0.
func (r *Runner) buildNumber(ctx context.Context, pipeline string, logger *slog.Logger) int64 {
	if v, ok := lookupEnv(r.cfg.BaseEnv, "BUILD_NUMBER"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
		logger.Warn("ignoring non-numeric BUILD_NUMBER", "value", v)
	}
	if r.store == nil {
		return 0
	}
	n, err := r.store.NextBuildNumber(ctx, pipeline)
	if err != nil {
		logger.Warn("build number allocation failed", "error", err)
		return 0
	}
	return n
}

func (r *Runner) advance(st *run, to types.RunStatus, logger *slog.Logger) {
	if err := st.tracker.Advance(to); err != nil {
		logger.Warn("lifecycle transition rejected", "to", to, "error", err)
	}
}

// recordRun reports a finalized run to telemetry at most once.
func (r *Runner) recordRun(ctx context.Context, span trace.Span, st *run) {
	if st.recorded {
		return
	}
	st.recorded = true
	r.telemetry.RecordRun(ctx, span, st.report)
}

// finalize sets the outcome exactly once. Later calls are ignored.
func (r *Runner) finalize(st *run, outcome types.Outcome, errMsg string, logger *slog.Logger) {
	if st.done {
		return
	}
	st.done = true
	rep := st.report
	rep.Outcome = outcome
	rep.Error = st.masker.String(errMsg)
	rep.FinishedAt = time.Now().UTC()
	if r.logs != nil {
		rep.LogURL = r.logs.RunURL(rep.RunID)
	}
	r.advance(st, lifecycle.StatusFor(outcome), logger)
	logger.Info("run finished",
		"outcome", outcome,
		"degraded", rep.Degraded,
		"stages", len(rep.Stages),
		"duration", rep.Duration().String(),
	)
}
