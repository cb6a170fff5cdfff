// Package app assembles a runner and its collaborators from a project config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dwsmith1983/stagehand/internal/logstore"
	"github.com/dwsmith1983/stagehand/internal/metrics"
	"github.com/dwsmith1983/stagehand/internal/notify"
	"github.com/dwsmith1983/stagehand/internal/runner"
	"github.com/dwsmith1983/stagehand/internal/secrets"
	"github.com/dwsmith1983/stagehand/internal/store"
	ddbstore "github.com/dwsmith1983/stagehand/internal/store/dynamodb"
	"github.com/dwsmith1983/stagehand/internal/toolchain"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// stateDir is where local reports and logs live, relative to the workspace.
const stateDir = ".stagehand"

// Options are process-level inputs that do not come from stagehand.yaml.
type Options struct {
	Logger *slog.Logger
	// BaseEnv is handed to every stage. Callers typically pass os.Environ().
	BaseEnv        []string
	DefaultTimeout time.Duration
	// Sinks replaces the configured notification sinks when non-empty.
	Sinks []notify.Sink
	// Store replaces the configured report store when set. Build starts it
	// and Close stops it.
	Store store.Store
}

// App holds the wired components for one project.
type App struct {
	Config    *types.ProjectConfig
	Runner    *runner.Runner
	Store     store.Store // nil when persistence is disabled
	Tools     *toolchain.Registry
	Notifier  *notify.Notifier
	Telemetry *metrics.Telemetry
	Logger    *slog.Logger
}

// Build wires every component named by cfg. Close releases them.
func Build(ctx context.Context, cfg *types.ProjectConfig, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workspace := cfg.Workspace

	tools, err := toolchain.NewRegistry(workspace, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("loading tools: %w", err)
	}

	tel, err := metrics.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	st := opts.Store
	if st == nil {
		st, err = NewStore(ctx, cfg, logger)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("creating store: %w", err)
		}
	}
	if st != nil {
		if err := st.Start(ctx); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("starting store: %w", err)
		}
	}
	// Everything past here must release the started store on failure.
	fail := func(err error) (*App, error) {
		if st != nil {
			if stopErr := st.Stop(ctx); stopErr != nil {
				logger.Warn("stopping store after failed setup", "error", stopErr)
			}
		}
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	logs, err := logstore.FromConfig(ctx, cfg.Logs, filepath.Join(workspace, stateDir, "logs"), logger)
	if err != nil {
		return fail(fmt.Errorf("creating log store: %w", err))
	}

	notifyOpts := []notify.Option{
		notify.WithLogger(logger),
		notify.WithObserver(func(sink string, err error) {
			tel.RecordNotification(context.Background(), sink, err)
		}),
	}
	if len(opts.Sinks) > 0 {
		notifyOpts = append(notifyOpts, notify.WithSinks(opts.Sinks...))
	}
	n, err := notify.New(ctx, cfg.Notify, workspace, notifyOpts...)
	if err != nil {
		return fail(fmt.Errorf("creating notifier: %w", err))
	}

	runOpts := []runner.Option{
		runner.WithTools(tools),
		runner.WithLogStore(logs),
		runner.WithNotifier(n),
		runner.WithTelemetry(tel),
	}
	if st != nil {
		runOpts = append(runOpts, runner.WithStore(st))
	}
	if len(cfg.Secrets) > 0 {
		res, err := secrets.NewResolver(ctx)
		if err != nil {
			return fail(fmt.Errorf("creating secrets resolver: %w", err))
		}
		runOpts = append(runOpts, runner.WithSecrets(res, cfg.Secrets))
	}

	r := runner.New(runner.Config{
		Workspace:      workspace,
		BaseEnv:        opts.BaseEnv,
		DefaultTimeout: opts.DefaultTimeout,
		Logger:         logger,
	}, runOpts...)

	return &App{
		Config:    cfg,
		Runner:    r,
		Store:     st,
		Tools:     tools,
		Notifier:  n,
		Telemetry: tel,
		Logger:    logger,
	}, nil
}

// Execute runs the configured pipeline with guaranteed notification.
func (a *App) Execute(ctx context.Context) (*types.RunReport, error) {
	return a.Runner.Execute(ctx, a.Config.Pipeline)
}

// Close stops the store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Stop(ctx))
	}
	errs = append(errs, a.Telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}

// NewStore creates the configured report store. It returns nil, nil when
// persistence is disabled. The default is a file store under the workspace.
func NewStore(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sc := cfg.Store
	if sc == nil {
		sc = &types.StoreConfig{Type: types.StoreFile}
	}
	switch sc.Type {
	case types.StoreNone:
		return nil, nil
	case types.StoreFile, "":
		dir := sc.Path
		if dir == "" {
			dir = stateDir
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(cfg.Workspace, dir)
		}
		f := store.NewFile(dir)
		f.SetLogger(logger)
		return f, nil
	case types.StoreDynamoDB:
		return ddbstore.New(ctx, sc.DynamoDB, ddbstore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported store type: %s", sc.Type)
	}
}
