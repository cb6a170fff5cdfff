package main

import (
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
)

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)
	cfg := DefaultConfig()

	if name := os.Getenv("STAGEHAND_NAME"); name != "" {
		cfg.Name = name
	}
	if arn := os.Getenv("STAGEHAND_REPOSITORY_ARN"); arn != "" {
		cfg.RepositoryArn = arn
	}
	if branch := os.Getenv("STAGEHAND_BRANCH"); branch != "" {
		cfg.Branch = branch
	}
	cfg.Schedule = os.Getenv("STAGEHAND_SCHEDULE")
	cfg.NotifyEmail = os.Getenv("STAGEHAND_NOTIFY_EMAIL")
	cfg.DestroyOnDelete = os.Getenv("STAGEHAND_DESTROY_ON_DELETE") == "true"

	stackName := "StagehandStack"
	if name := os.Getenv("STAGEHAND_STACK_NAME"); name != "" {
		stackName = name
	}

	NewStagehandStack(app, stackName, cfg)
	app.Synth(nil)
}
