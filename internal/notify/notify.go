// Package notify delivers the post-run summary of a pipeline run to one or
// more sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

const defaultSendTimeout = 30 * time.Second

// Sink is a notification destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg *types.Message) error
}

// SinkFailure records one sink that failed to deliver.
type SinkFailure struct {
	Sink string
	Err  error
}

// NotificationError is returned when one or more sinks failed. It never
// affects the outcome of the run it describes.
type NotificationError struct {
	Failures []SinkFailure
}

func (e *NotificationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Sink, f.Err))
	}
	return "notification failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual sink errors to errors.Is/As.
func (e *NotificationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Notifier formats a RunReport into a Message and fans it out to sinks.
type Notifier struct {
	sinks       []Sink
	breakers    []*gobreaker.CircuitBreaker
	composer    *Composer
	sendTimeout time.Duration
	logger      *slog.Logger
	observe     func(sink string, err error)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSinks replaces the configured sinks (useful for testing).
func WithSinks(sinks ...Sink) Option {
	return func(n *Notifier) { n.sinks = sinks }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithSendTimeout bounds each sink delivery.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.sendTimeout = d }
}

// WithObserver registers a callback invoked once per sink delivery attempt.
func WithObserver(fn func(sink string, err error)) Option {
	return func(n *Notifier) { n.observe = fn }
}

// New creates a notifier from the notify section of the project config.
// baseDir resolves relative attachment paths. With no sinks configured the
// summary is printed to the console.
func New(ctx context.Context, cfg *types.NotifyConfig, baseDir string, opts ...Option) (*Notifier, error) {
	if cfg == nil {
		cfg = &types.NotifyConfig{}
	}
	composer, err := NewComposer(cfg, baseDir)
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		composer:    composer,
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	composer.logger = n.logger

	if n.sinks == nil {
		for _, sc := range cfg.Sinks {
			sink, err := newSink(ctx, sc)
			if err != nil {
				return nil, fmt.Errorf("creating %s sink: %w", sc.Type, err)
			}
			n.sinks = append(n.sinks, sink)
		}
		if len(n.sinks) == 0 {
			n.sinks = []Sink{NewConsoleSink(nil)}
		}
	}

	n.breakers = make([]*gobreaker.CircuitBreaker, len(n.sinks))
	for i, s := range n.sinks {
		n.breakers[i] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    fmt.Sprintf("notify-%d-%s", i, s.Name()),
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(bn string, from, to gobreaker.State) {
				n.logger.Warn("notification circuit state changed", "breaker", bn, "from", from.String(), "to", to.String())
			},
		})
	}
	return n, nil
}

// Sinks returns the names of the active sinks.
func (n *Notifier) Sinks() []string {
	names := make([]string, 0, len(n.sinks))
	for _, s := range n.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify composes the message for report and delivers it to every sink
// concurrently. It returns a *NotificationError listing the sinks that failed.
func (n *Notifier) Notify(ctx context.Context, report *types.RunReport) error {
	if report == nil {
		return errors.New("notify: nil report")
	}
	msg, err := n.composer.Compose(report)
	if err != nil {
		return &NotificationError{Failures: []SinkFailure{{Sink: "compose", Err: err}}}
	}

	errs := make([]error, len(n.sinks))
	g, gctx := errgroup.WithContext(ctx)
	for i, sink := range n.sinks {
		g.Go(func() error {
			err := n.send(gctx, i, msg)
			if n.observe != nil {
				n.observe(sink.Name(), err)
			}
			if err != nil {
				n.logger.Error("notification delivery failed", "sink", sink.Name(), "runId", report.RunID, "error", err)
			} else {
				n.logger.Info("notification delivered", "sink", sink.Name(), "runId", report.RunID)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var failures []SinkFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, SinkFailure{Sink: n.sinks[i].Name(), Err: err})
		}
	}
	if len(failures) > 0 {
		return &NotificationError{Failures: failures}
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, i int, msg *types.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	_, err := n.breakers[i].Execute(func() (interface{}, error) {
		return nil, n.sinks[i].Send(sendCtx, msg)
	})
	return err
}

func newSink(ctx context.Context, cfg types.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case types.SinkConsole:
		return NewConsoleSink(nil), nil
	case types.SinkFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.SinkWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.SinkSMTP:
		return NewSMTPSink(cfg)
	case types.SinkSES:
		return NewSESSink(ctx, cfg)
	case types.SinkSNS:
		return NewSNSSink(ctx, cfg.TopicARN, cfg.Region)
	case types.SinkSQS:
		return NewSQSSink(ctx, cfg.QueueURL, cfg.Region)
	case types.SinkEventBridge:
		return NewEventBridgeSink(ctx, cfg.EventBus, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
