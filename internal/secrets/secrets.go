// Package secrets resolves stage secrets from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used by Resolver.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveError reports a secret binding that could not be resolved. Like a
// missing tool it fails the run before any stage executes.
type ResolveError struct {
	Env      string
	SecretID string
	Err      error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving secret %s for %s: %v", e.SecretID, e.Env, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolver fetches secret values for a set of bindings.
type Resolver struct {
	client SecretsManagerAPI
	region string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets a custom Secrets Manager client (useful for testing).
func WithClient(c SecretsManagerAPI) Option {
	return func(r *Resolver) { r.client = c }
}

// WithRegion overrides the region from the default AWS config chain.
func WithRegion(region string) Option {
	return func(r *Resolver) { r.region = region }
}

// NewResolver creates a resolver backed by Secrets Manager.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	if r.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if r.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(r.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		r.client = secretsmanager.NewFromConfig(cfg)
	}
	return r, nil
}

// Resolve returns an env var -> value map for the bindings. Each secret is
// fetched once even when several bindings reference it.
func (r *Resolver) Resolve(ctx context.Context, bindings []types.SecretBinding) (map[string]string, error) {
	out := make(map[string]string, len(bindings))
	fetched := make(map[string]string)

	for _, b := range bindings {
		raw, ok := fetched[b.SecretID]
		if !ok {
			resp, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
				SecretId: aws.String(b.SecretID),
			})
			if err != nil {
				return nil, &ResolveError{Env: b.Env, SecretID: b.SecretID, Err: err}
			}
			if resp.SecretString == nil {
				return nil, &ResolveError{Env: b.Env, SecretID: b.SecretID, Err: fmt.Errorf("secret has no string value")}
			}
			raw = *resp.SecretString
			fetched[b.SecretID] = raw
		}

		if b.Key == "" {
			out[b.Env] = raw
			continue
		}
		var kv map[string]any
		if err := json.Unmarshal([]byte(raw), &kv); err != nil {
			return nil, &ResolveError{Env: b.Env, SecretID: b.SecretID, Err: fmt.Errorf("secret is not a JSON object: %w", err)}
		}
		v, ok := kv[b.Key]
		if !ok {
			return nil, &ResolveError{Env: b.Env, SecretID: b.SecretID, Err: fmt.Errorf("key %q not present", b.Key)}
		}
		out[b.Env] = fmt.Sprint(v)
	}
	return out, nil
}
