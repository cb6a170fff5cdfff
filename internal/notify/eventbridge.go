package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// EventBridge event identity.
const (
	eventSource     = "stagehand"
	eventDetailType = "Pipeline Run Finished"
)

// EventBridgeAPI is the subset of the EventBridge client used by EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink emits one event per finished run.
type EventBridgeSink struct {
	client EventBridgeAPI
	bus    string
}

// EventBridgeSinkOption configures an EventBridgeSink.
type EventBridgeSinkOption func(*EventBridgeSink)

// WithEventBridgeClient sets a custom EventBridge client (useful for testing).
func WithEventBridgeClient(c EventBridgeAPI) EventBridgeSinkOption {
	return func(s *EventBridgeSink) { s.client = c }
}

// NewEventBridgeSink creates a sink publishing to bus, or the default bus when empty.
func NewEventBridgeSink(ctx context.Context, bus, region string, opts ...EventBridgeSinkOption) (*EventBridgeSink, error) {
	if bus == "" {
		bus = "default"
	}
	s := &EventBridgeSink{bus: bus}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		s.client = eventbridge.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send puts the run summary event. Partial failures are reported as errors.
func (s *EventBridgeSink) Send(ctx context.Context, msg *types.Message) error {
	detail, err := json.Marshal(summarize(msg))
	if err != nil {
		return fmt.Errorf("marshaling event detail: %w", err)
	}
	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.bus),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(eventDetailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(msg.Report.FinishedAt),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		e := out.Entries[0]
		return fmt.Errorf("event rejected: %s: %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}
