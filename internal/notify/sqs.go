package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// SQSAPI is the subset of the SQS client used by SQSSink.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink enqueues the finalized report for downstream consumers.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// SQSSinkOption configures an SQSSink.
type SQSSinkOption func(*SQSSink)

// WithSQSClient sets a custom SQS client (useful for testing).
func WithSQSClient(c SQSAPI) SQSSinkOption {
	return func(s *SQSSink) { s.client = c }
}

// NewSQSSink creates a new SQS sink.
func NewSQSSink(ctx context.Context, queueURL, region string, opts ...SQSSinkOption) (*SQSSink, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("SQS queue URL required")
	}
	s := &SQSSink{queueURL: queueURL}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		s.client = sqs.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *SQSSink) Name() string { return "sqs" }

// Send enqueues the report JSON. Captured stage output is dropped to stay
// under the SQS message size limit.
func (s *SQSSink) Send(ctx context.Context, msg *types.Message) error {
	body, err := json.Marshal(summarize(msg))
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sending to SQS: %w", err)
	}
	return nil
}

// runSummary is the compact report shape sent to queues and event buses.
type runSummary struct {
	Subject  string           `json:"subject"`
	Report   *types.RunReport `json:"report"`
	Warnings []string         `json:"warnings,omitempty"`
}

func summarize(msg *types.Message) runSummary {
	r := *msg.Report
	r.Stages = make([]types.StageResult, len(msg.Report.Stages))
	for i, st := range msg.Report.Stages {
		st.CapturedOutput = ""
		r.Stages[i] = st
	}
	return runSummary{Subject: msg.Subject, Report: &r, Warnings: msg.Warnings}
}
