package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
)

// SchedulerAPI is the subset of the EventBridge Scheduler client used to
// manage recurring runs.
type SchedulerAPI interface {
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, params *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
}

// Schedule describes a recurring run of the runner function.
type Schedule struct {
	Name        string
	Expression  string // "cron(0 2 * * ? *)" or "rate(1 day)"
	Timezone    string
	FunctionArn string
	RoleArn     string // assumed by Scheduler to invoke the function
	Ref         Ref
}

func (s Schedule) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("schedule name is required")
	case s.Expression == "":
		return fmt.Errorf("schedule expression is required")
	case s.FunctionArn == "":
		return fmt.Errorf("runner function ARN is required")
	case s.RoleArn == "":
		return fmt.Errorf("scheduler role ARN is required")
	}
	return nil
}

// PutSchedule creates the schedule, or updates it in place when one with the
// same name exists. It reports whether the schedule was created.
func (c *Client) PutSchedule(ctx context.Context, s Schedule) (bool, error) {
	if err := s.validate(); err != nil {
		return false, err
	}
	client, err := c.getSchedulerClient(ctx)
	if err != nil {
		return false, err
	}
	payload, err := triggerEvent(s.Ref, time.Now())
	if err != nil {
		return false, fmt.Errorf("encoding trigger event: %w", err)
	}

	target := &schedtypes.Target{
		Arn:         aws.String(s.FunctionArn),
		RoleArn:     aws.String(s.RoleArn),
		Input:       aws.String(string(payload)),
		RetryPolicy: &schedtypes.RetryPolicy{MaximumRetryAttempts: aws.Int32(0)},
	}
	window := &schedtypes.FlexibleTimeWindow{Mode: schedtypes.FlexibleTimeWindowModeOff}
	var tz *string
	if s.Timezone != "" {
		tz = aws.String(s.Timezone)
	}

	_, err = client.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                       aws.String(s.Name),
		ScheduleExpression:         aws.String(s.Expression),
		ScheduleExpressionTimezone: tz,
		FlexibleTimeWindow:         window,
		Target:                     target,
		State:                      schedtypes.ScheduleStateEnabled,
	})
	if err == nil {
		return true, nil
	}
	var conflict *schedtypes.ConflictException
	if !errors.As(err, &conflict) {
		return false, fmt.Errorf("creating schedule %s: %w", s.Name, err)
	}

	_, err = client.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:                       aws.String(s.Name),
		ScheduleExpression:         aws.String(s.Expression),
		ScheduleExpressionTimezone: tz,
		FlexibleTimeWindow:         window,
		Target:                     target,
		State:                      schedtypes.ScheduleStateEnabled,
	})
	if err != nil {
		return false, fmt.Errorf("updating schedule %s: %w", s.Name, err)
	}
	return false, nil
}

// DeleteSchedule removes the named schedule. A missing schedule is not an error.
func (c *Client) DeleteSchedule(ctx context.Context, name string) error {
	client, err := c.getSchedulerClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{Name: aws.String(name)})
	var notFound *schedtypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("deleting schedule %s: %w", name, err)
	}
	return nil
}
