package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	intlambda "github.com/dwsmith1983/stagehand/internal/lambda"
)

// LambdaAPI is the subset of the Lambda client used to start runs.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Invoke starts a run on the runner function. With wait set it blocks until
// the run has been reported and returns its result; otherwise the invocation
// is queued and the returned response is empty.
func (c *Client) Invoke(ctx context.Context, function string, ref Ref, wait bool) (*intlambda.RunResponse, error) {
	if function == "" {
		return nil, fmt.Errorf("runner function name is required")
	}
	client, err := c.getLambdaClient(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := triggerEvent(ref, time.Now())
	if err != nil {
		return nil, fmt.Errorf("encoding trigger event: %w", err)
	}

	invocation := lambdatypes.InvocationTypeEvent
	if wait {
		invocation = lambdatypes.InvocationTypeRequestResponse
	}
	out, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: invocation,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking %s: %w", function, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("runner function error (%s): %s", aws.ToString(out.FunctionError), out.Payload)
	}

	resp := &intlambda.RunResponse{}
	if !wait {
		return resp, nil
	}
	if err := json.Unmarshal(out.Payload, resp); err != nil {
		return nil, fmt.Errorf("decoding run response: %w", err)
	}
	return resp, nil
}
