package logstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// PutLogEvents limits.
const (
	cwMaxBatchEvents = 10000
	cwMaxBatchBytes  = 1048576
	cwEventOverhead  = 26
	cwMaxEventBytes  = 256*1024 - cwEventOverhead
)

// CloudWatchAPI is the subset of the CloudWatch Logs client used by CloudWatchPublisher.
type CloudWatchAPI interface {
	CreateLogStream(ctx context.Context, input *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, input *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchPublisher copies finished stage logs into a CloudWatch Logs
// stream named {runID}/{NN}-{stage}.
type CloudWatchPublisher struct {
	client   CloudWatchAPI
	logGroup string
	region   string
	now      func() time.Time
}

// CloudWatchOption configures a CloudWatchPublisher.
type CloudWatchOption func(*CloudWatchPublisher)

// WithCloudWatchClient sets a custom CloudWatch Logs client (useful for testing).
func WithCloudWatchClient(c CloudWatchAPI) CloudWatchOption {
	return func(p *CloudWatchPublisher) { p.client = c }
}

// NewCloudWatchPublisher creates a publisher writing into logGroup.
func NewCloudWatchPublisher(ctx context.Context, logGroup, region string, opts ...CloudWatchOption) (*CloudWatchPublisher, error) {
	if logGroup == "" {
		return nil, fmt.Errorf("CloudWatch log group required")
	}
	p := &CloudWatchPublisher{logGroup: logGroup, region: region, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		cfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		if p.region == "" {
			p.region = cfg.Region
		}
		p.client = cloudwatchlogs.NewFromConfig(cfg)
	}
	return p, nil
}

// Name returns the publisher identifier.
func (p *CloudWatchPublisher) Name() string { return "cloudwatch" }

// StreamName returns the log stream used for a stage.
func (p *CloudWatchPublisher) StreamName(runID string, index int, stage string) string {
	return fmt.Sprintf("%s/%02d-%s", runID, index, sanitize(stage))
}

// Publish creates the stage stream and uploads the log line by line.
func (p *CloudWatchPublisher) Publish(ctx context.Context, runID string, log *StageLog, _ string) error {
	stream := p.StreamName(runID, log.Index, log.Stage)
	_, err := p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(p.logGroup),
		LogStreamName: aws.String(stream),
	})
	var exists *cwtypes.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("creating log stream %s: %w", stream, err)
	}

	f, err := os.Open(log.Path)
	if err != nil {
		return fmt.Errorf("opening stage log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ts := p.now().UnixMilli()
	var batch []cwtypes.InputLogEvent
	size := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := p.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(p.logGroup),
			LogStreamName: aws.String(stream),
			LogEvents:     batch,
		})
		batch, size = nil, 0
		if err != nil {
			return fmt.Errorf("putting log events to %s: %w", stream, err)
		}
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			line = " "
		}
		if len(line) > cwMaxEventBytes {
			line = line[:cwMaxEventBytes]
		}
		n := len(line) + cwEventOverhead
		if len(batch) == cwMaxBatchEvents || size+n > cwMaxBatchBytes {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, cwtypes.InputLogEvent{Message: aws.String(line), Timestamp: aws.Int64(ts)})
		size += n
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stage log: %w", err)
	}
	return flush()
}

// RunURL links to the log group in the CloudWatch console, filtered to the run.
func (p *CloudWatchPublisher) RunURL(runID string) string {
	region := p.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.console.aws.amazon.com/cloudwatch/home?region=%s#logsV2:log-groups/log-group/%s$3FlogStreamNameFilter$3D%s",
		region, region, url.PathEscape(p.logGroup), url.QueryEscape(runID))
}
