package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/stagehand/internal/app"
	"github.com/dwsmith1983/stagehand/internal/config"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	App      *app.App
	Executor PipelineExecutor
	Logger   *slog.Logger
}

// Init loads the bundled project config and wires the runner.
// Reads: CONFIG_PATH, WORKSPACE, AWS_REGION, TABLE_NAME, SNS_TOPIC_ARN, LOG_BUCKET, LOG_GROUP
func Init(ctx context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(envOrDefault("CONFIG_PATH", "/var/task/stagehand.yaml"))
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	a, err := app.Build(ctx, cfg, app.Options{
		Logger:  logger,
		BaseEnv: os.Environ(),
	})
	if err != nil {
		return nil, err
	}
	return &Deps{App: a, Executor: a.Runner, Logger: logger}, nil
}

// applyOverrides points the config at the resources provisioned for the
// function. Only /tmp is writable in Lambda, so the workspace defaults there.
func applyOverrides(cfg *types.ProjectConfig, getenv func(string) string) error {
	region := getenv("AWS_REGION")

	cfg.Workspace = "/tmp/workspace"
	if ws := getenv("WORKSPACE"); ws != "" {
		cfg.Workspace = ws
	}

	if table := getenv("TABLE_NAME"); table != "" {
		cfg.Store = &types.StoreConfig{
			Type: types.StoreDynamoDB,
			DynamoDB: &types.DynamoDBConfig{
				TableName:    table,
				Region:       region,
				RetentionTTL: envOr(getenv, "RETENTION_TTL", "2160h"),
			},
		}
	} else if cfg.Store == nil || cfg.Store.Type == types.StoreFile || cfg.Store.Type == "" {
		return fmt.Errorf("TABLE_NAME environment variable required")
	}

	if topic := getenv("SNS_TOPIC_ARN"); topic != "" {
		if cfg.Notify == nil {
			cfg.Notify = &types.NotifyConfig{}
		}
		cfg.Notify.Sinks = append(cfg.Notify.Sinks, types.SinkConfig{
			Type:     types.SinkSNS,
			TopicARN: topic,
			Region:   region,
		})
	}

	if bucket := getenv("LOG_BUCKET"); bucket != "" {
		if cfg.Logs == nil {
			cfg.Logs = &types.LogConfig{}
		}
		cfg.Logs.S3 = &types.S3LogConfig{Bucket: bucket, Prefix: "logs/", Region: region}
	}
	if group := getenv("LOG_GROUP"); group != "" {
		if cfg.Logs == nil {
			cfg.Logs = &types.LogConfig{}
		}
		cfg.Logs.CloudWatch = &types.CloudWatchLogConfig{LogGroup: group, Region: region}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	return envOr(os.Getenv, key, fallback)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
