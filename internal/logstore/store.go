package logstore

import (
	"context"
	"log/slog"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// Publisher ships a finished stage log to a remote archive.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, runID string, log *StageLog, sha256Hex string) error
	RunURL(runID string) string
}

// Store writes stage logs locally and forwards them to publishers.
type Store struct {
	local      *Local
	publishers []Publisher
	logger     *slog.Logger
}

// New creates a store. Publishers are optional.
func New(local *Local, logger *slog.Logger, publishers ...Publisher) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{local: local, publishers: publishers, logger: logger}
}

// FromConfig builds a store from the logs section of the project config.
func FromConfig(ctx context.Context, cfg *types.LogConfig, defaultDir string, logger *slog.Logger) (*Store, error) {
	dir := defaultDir
	var pubs []Publisher
	if cfg != nil {
		if cfg.Dir != "" {
			dir = cfg.Dir
		}
		if cfg.S3 != nil {
			p, err := NewS3Publisher(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
			if err != nil {
				return nil, err
			}
			pubs = append(pubs, p)
		}
		if cfg.CloudWatch != nil {
			p, err := NewCloudWatchPublisher(ctx, cfg.CloudWatch.LogGroup, cfg.CloudWatch.Region)
			if err != nil {
				return nil, err
			}
			pubs = append(pubs, p)
		}
	}
	return New(NewLocal(dir), logger, pubs...), nil
}

// Open creates the local log file for a stage.
func (s *Store) Open(runID string, index int, stage string) (*StageLog, error) {
	return s.local.Open(runID, index, stage)
}

// Finish closes the stage log, publishes it, and returns its SHA-256.
// Publish failures are logged; the local copy remains authoritative.
func (s *Store) Finish(ctx context.Context, runID string, log *StageLog) (string, error) {
	sum, err := log.Close()
	if err != nil {
		return "", err
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, runID, log, sum); err != nil {
			s.logger.Warn("stage log publish failed", "publisher", p.Name(), "stage", log.Stage, "error", err)
		}
	}
	return sum, nil
}

// RunURL returns the link to a run's full log. The first remote publisher
// wins; otherwise the local run directory is returned.
func (s *Store) RunURL(runID string) string {
	if len(s.publishers) > 0 {
		return s.publishers[0].RunURL(runID)
	}
	return s.local.RunDir(runID)
}
