// Package trigger starts pipeline runs on the deployed runner Lambda, either
// on demand or on an EventBridge Scheduler schedule.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"

	intlambda "github.com/dwsmith1983/stagehand/internal/lambda"
)

// Event identity for runs started from the CLI.
const (
	eventSource     = "stagehand.cli"
	eventDetailType = "Manual Run"
)

// Client holds injectable AWS SDK clients.
type Client struct {
	region string

	mu              sync.Mutex
	lambdaClient    LambdaAPI
	schedulerClient SchedulerAPI
}

// Option configures a Client.
type Option func(*Client)

// WithLambdaClient sets a custom Lambda client (useful for testing).
func WithLambdaClient(c LambdaAPI) Option {
	return func(cl *Client) { cl.lambdaClient = c }
}

// WithSchedulerClient sets a custom EventBridge Scheduler client.
func WithSchedulerClient(c SchedulerAPI) Option {
	return func(cl *Client) { cl.schedulerClient = c }
}

// WithRegion overrides the region taken from the environment.
func WithRegion(region string) Option {
	return func(cl *Client) { cl.region = region }
}

// New creates a Client. SDK clients are created lazily on first use.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) getLambdaClient(ctx context.Context) (LambdaAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lambdaClient != nil {
		return c.lambdaClient, nil
	}
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.lambdaClient = lambda.NewFromConfig(cfg)
	return c.lambdaClient, nil
}

func (c *Client) getSchedulerClient(ctx context.Context) (SchedulerAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schedulerClient != nil {
		return c.schedulerClient, nil
	}
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.schedulerClient = scheduler.NewFromConfig(cfg)
	return c.schedulerClient, nil
}

func (c *Client) loadConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.region != "" {
		opts = append(opts, awsconfig.WithRegion(c.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// Ref labels a remote run with repository coordinates.
type Ref struct {
	Repository string
	Branch     string
	Commit     string
}

// triggerEvent renders ref as the EventBridge envelope the runner Lambda expects.
func triggerEvent(ref Ref, now time.Time) ([]byte, error) {
	detail := intlambda.ReferenceChange{
		Event:          "referenceUpdated",
		RepositoryName: ref.Repository,
		CommitID:       ref.Commit,
	}
	if ref.Branch != "" {
		detail.ReferenceType = "branch"
		detail.ReferenceName = ref.Branch
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.CloudWatchEvent{
		Version:    "0",
		ID:         fmt.Sprintf("cli-%d", now.UnixNano()),
		DetailType: eventDetailType,
		Source:     eventSource,
		Time:       now.UTC(),
		Detail:     raw,
	})
}
