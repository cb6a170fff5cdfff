package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intlambda "github.com/dwsmith1983/stagehand/internal/lambda"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

type mockLambdaClient struct {
	input *lambda.InvokeInput
	out   *lambda.InvokeOutput
	err   error
}

func (m *mockLambdaClient) Invoke(_ context.Context, params *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	m.input = params
	return m.out, m.err
}

type mockSchedulerClient struct {
	created   *scheduler.CreateScheduleInput
	updated   *scheduler.UpdateScheduleInput
	deleted   string
	createErr error
	deleteErr error
}

func (m *mockSchedulerClient) CreateSchedule(_ context.Context, params *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	m.created = params
	return &scheduler.CreateScheduleOutput{}, m.createErr
}

func (m *mockSchedulerClient) UpdateSchedule(_ context.Context, params *scheduler.UpdateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error) {
	m.updated = params
	return &scheduler.UpdateScheduleOutput{}, nil
}

func (m *mockSchedulerClient) DeleteSchedule(_ context.Context, params *scheduler.DeleteScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error) {
	m.deleted = aws.ToString(params.Name)
	return &scheduler.DeleteScheduleOutput{}, m.deleteErr
}

func decodeRef(t *testing.T, payload []byte) intlambda.ReferenceChange {
	t.Helper()
	var evt events.CloudWatchEvent
	require.NoError(t, json.Unmarshal(payload, &evt))
	assert.Equal(t, eventSource, evt.Source)
	var ref intlambda.ReferenceChange
	require.NoError(t, json.Unmarshal(evt.Detail, &ref))
	return ref
}

func TestInvoke_Wait(t *testing.T) {
	body, err := json.Marshal(intlambda.RunResponse{RunID: "01HRUN", Pipeline: "video-app", BuildNumber: 3, Outcome: types.OutcomeAborted})
	require.NoError(t, err)
	client := &mockLambdaClient{out: &lambda.InvokeOutput{StatusCode: 200, Payload: body}}

	c := New(WithLambdaClient(client))
	resp, err := c.Invoke(context.Background(), "stagehand-runner", Ref{Branch: "main", Commit: "abc"}, true)
	require.NoError(t, err)

	assert.Equal(t, lambdatypes.InvocationTypeRequestResponse, client.input.InvocationType)
	assert.Equal(t, "stagehand-runner", aws.ToString(client.input.FunctionName))
	ref := decodeRef(t, client.input.Payload)
	assert.Equal(t, "branch", ref.ReferenceType)
	assert.Equal(t, "main", ref.ReferenceName)
	assert.Equal(t, "abc", ref.CommitID)

	assert.Equal(t, "01HRUN", resp.RunID)
	assert.Equal(t, types.OutcomeAborted, resp.Outcome)
}

func TestInvoke_Async(t *testing.T) {
	client := &mockLambdaClient{out: &lambda.InvokeOutput{StatusCode: 202}}
	resp, err := New(WithLambdaClient(client)).Invoke(context.Background(), "fn", Ref{}, false)
	require.NoError(t, err)
	assert.Equal(t, lambdatypes.InvocationTypeEvent, client.input.InvocationType)
	assert.Empty(t, resp.RunID)
	assert.Empty(t, decodeRef(t, client.input.Payload).ReferenceType)
}

func TestInvoke_Errors(t *testing.T) {
	_, err := New(WithLambdaClient(&mockLambdaClient{})).Invoke(context.Background(), "", Ref{}, true)
	assert.ErrorContains(t, err, "function name is required")

	client := &mockLambdaClient{err: errors.New("AccessDenied")}
	_, err = New(WithLambdaClient(client)).Invoke(context.Background(), "fn", Ref{}, true)
	assert.ErrorContains(t, err, "AccessDenied")

	client = &mockLambdaClient{out: &lambda.InvokeOutput{
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"TABLE_NAME environment variable required"}`),
	}}
	_, err = New(WithLambdaClient(client)).Invoke(context.Background(), "fn", Ref{}, true)
	assert.ErrorContains(t, err, "TABLE_NAME")
}

func testSchedule() Schedule {
	return Schedule{
		Name:        "video-app-nightly",
		Expression:  "cron(0 2 * * ? *)",
		Timezone:    "Europe/London",
		FunctionArn: "arn:aws:lambda:eu-west-1:123:function:stagehand-runner",
		RoleArn:     "arn:aws:iam::123:role/stagehand-scheduler",
		Ref:         Ref{Branch: "main"},
	}
}

func TestPutSchedule_Create(t *testing.T) {
	client := &mockSchedulerClient{}
	created, err := New(WithSchedulerClient(client)).PutSchedule(context.Background(), testSchedule())
	require.NoError(t, err)
	assert.True(t, created)

	in := client.created
	require.NotNil(t, in)
	assert.Equal(t, "cron(0 2 * * ? *)", aws.ToString(in.ScheduleExpression))
	assert.Equal(t, "Europe/London", aws.ToString(in.ScheduleExpressionTimezone))
	assert.Equal(t, schedtypes.FlexibleTimeWindowModeOff, in.FlexibleTimeWindow.Mode)
	assert.Equal(t, int32(0), aws.ToInt32(in.Target.RetryPolicy.MaximumRetryAttempts))
	assert.Equal(t, "main", decodeRef(t, []byte(aws.ToString(in.Target.Input))).ReferenceName)
	assert.Nil(t, client.updated)
}

func TestPutSchedule_UpdatesExisting(t *testing.T) {
	client := &mockSchedulerClient{createErr: &schedtypes.ConflictException{Message: aws.String("exists")}}
	created, err := New(WithSchedulerClient(client)).PutSchedule(context.Background(), testSchedule())
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, client.updated)
	assert.Equal(t, "video-app-nightly", aws.ToString(client.updated.Name))
}

func TestPutSchedule_Validation(t *testing.T) {
	s := testSchedule()
	s.RoleArn = ""
	_, err := New(WithSchedulerClient(&mockSchedulerClient{})).PutSchedule(context.Background(), s)
	assert.ErrorContains(t, err, "role ARN is required")
}

func TestDeleteSchedule(t *testing.T) {
	client := &mockSchedulerClient{deleteErr: &schedtypes.ResourceNotFoundException{Message: aws.String("gone")}}
	require.NoError(t, New(WithSchedulerClient(client)).DeleteSchedule(context.Background(), "nightly"))
	assert.Equal(t, "nightly", client.deleted)

	client = &mockSchedulerClient{deleteErr: errors.New("throttled")}
	assert.Error(t, New(WithSchedulerClient(client)).DeleteSchedule(context.Background(), "nightly"))
}

func TestTriggerEvent_Time(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	b, err := triggerEvent(Ref{Repository: "video-app"}, now)
	require.NoError(t, err)
	var evt events.CloudWatchEvent
	require.NoError(t, json.Unmarshal(b, &evt))
	assert.Equal(t, now, evt.Time)
	assert.Equal(t, eventDetailType, evt.DetailType)
}
