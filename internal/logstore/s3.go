package logstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Publisher.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher archives finished stage logs to S3.
type S3Publisher struct {
	client S3API
	bucket string
	prefix string
	region string
}

// S3Option configures an S3Publisher.
type S3Option func(*S3Publisher)

// WithS3Client sets a custom S3 client (useful for testing).
func WithS3Client(c S3API) S3Option {
	return func(p *S3Publisher) { p.client = c }
}

// NewS3Publisher creates a publisher for the given bucket and key prefix.
func NewS3Publisher(ctx context.Context, bucket, prefix, region string, opts ...S3Option) (*S3Publisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	p := &S3Publisher{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
	}
	for _, o := range opts {
		o(p)
	}
	if p.client == nil {
		cfg, err := loadAWSConfig(ctx, region)
		if err != nil {
			return nil, err
		}
		p.client = s3.NewFromConfig(cfg)
	}
	return p, nil
}

// Name returns the publisher identifier.
func (p *S3Publisher) Name() string { return "s3" }

// Key returns the object key for a stage log.
// Key format: {prefix}/{runID}/{NN}-{stage}.log
func (p *S3Publisher) Key(runID string, index int, stage string) string {
	return strings.TrimLeft(fmt.Sprintf("%s/%s/%s", p.prefix, runID, FileName(index, stage)), "/")
}

// Publish uploads the stage log file.
func (p *S3Publisher) Publish(ctx context.Context, runID string, log *StageLog, sha256Hex string) error {
	f, err := os.Open(log.Path)
	if err != nil {
		return fmt.Errorf("opening stage log: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.Key(runID, log.Index, log.Stage)),
		Body:        f,
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata:    map[string]string{"sha256": sha256Hex, "stage": log.Stage},
	})
	if err != nil {
		return fmt.Errorf("putting stage log to S3: %w", err)
	}
	return nil
}

// RunURL links to the S3 console listing of the run's logs.
func (p *S3Publisher) RunURL(runID string) string {
	prefix := strings.TrimLeft(p.prefix+"/"+runID+"/", "/")
	region := p.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://s3.console.aws.amazon.com/s3/buckets/%s?region=%s&prefix=%s", p.bucket, region, prefix)
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
