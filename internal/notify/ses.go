package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// SESAPI is the subset of the SES v2 client used by SESSink.
type SESAPI interface {
	SendEmail(ctx context.Context, input *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSink sends the message as a raw MIME email through Amazon SES, which
// keeps attachments intact.
type SESSink struct {
	client SESAPI
	from   string
	now    func() time.Time
}

// SESSinkOption configures an SESSink.
type SESSinkOption func(*SESSink)

// WithSESClient sets a custom SES client (useful for testing).
func WithSESClient(c SESAPI) SESSinkOption {
	return func(s *SESSink) { s.client = c }
}

// NewSESSink creates an SES sink sending from cfg.From.
func NewSESSink(ctx context.Context, cfg types.SinkConfig, opts ...SESSinkOption) (*SESSink, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("SES from address required")
	}
	s := &SESSink{from: cfg.From, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		s.client = sesv2.NewFromConfig(awsCfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *SESSink) Name() string { return "ses" }

// Send delivers the message to its recipient.
func (s *SESSink) Send(ctx context.Context, msg *types.Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("no recipient configured")
	}
	raw, err := buildMIME(s.from, msg.Recipient, msg, s.now())
	if err != nil {
		return fmt.Errorf("building email: %w", err)
	}
	_, err = s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.Recipient}},
		Content:          &sestypes.EmailContent{Raw: &sestypes.RawMessage{Data: raw}},
	})
	if err != nil {
		return fmt.Errorf("sending email via SES: %w", err)
	}
	return nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}
