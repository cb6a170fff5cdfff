package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
	"github.com/stretchr/testify/require"
)

// setupTestDirs creates a dummy bootstrap so CDK asset resolution succeeds
// without a real build.
func setupTestDirs(t *testing.T) StackConfig {
	t.Helper()
	tmp := t.TempDir()

	dir := filepath.Join(tmp, "lambda", "runner")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bootstrap"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stagehand.yaml"), []byte("pipeline: {name: p}\n"), 0o644))

	cfg := DefaultConfig()
	cfg.LambdaDistDir = filepath.Join(tmp, "lambda")
	return cfg
}

func synthTemplate(t *testing.T, cfg StackConfig) assertions.Template {
	t.Helper()
	app := awscdk.NewApp(nil)
	stack := NewStagehandStack(app, "TestStack", cfg)
	return assertions.Template_FromStack(stack, nil)
}

func templateJSON(t *testing.T, tmpl assertions.Template) string {
	t.Helper()
	b, err := json.Marshal(tmpl.ToJSON())
	require.NoError(t, err)
	return string(b)
}

func TestDynamoDBTable(t *testing.T) {
	tmpl := synthTemplate(t, setupTestDirs(t))

	tmpl.HasResourceProperties(jsii.String("AWS::DynamoDB::GlobalTable"), map[string]interface{}{
		"TableName": jsii.String("stagehand-runs"),
		"KeySchema": &[]interface{}{
			map[string]interface{}{"AttributeName": jsii.String("PK"), "KeyType": jsii.String("HASH")},
			map[string]interface{}{"AttributeName": jsii.String("SK"), "KeyType": jsii.String("RANGE")},
		},
		"TimeToLiveSpecification": map[string]interface{}{
			"AttributeName": jsii.String("ttl"),
			"Enabled":       true,
		},
	})
}

func TestGSI1(t *testing.T) {
	tmpl := synthTemplate(t, setupTestDirs(t))

	tmpl.HasResourceProperties(jsii.String("AWS::DynamoDB::GlobalTable"), map[string]interface{}{
		"GlobalSecondaryIndexes": assertions.Match_ArrayWith(&[]interface{}{
			assertions.Match_ObjectLike(&map[string]interface{}{
				"IndexName": jsii.String("GSI1"),
				"KeySchema": &[]interface{}{
					map[string]interface{}{"AttributeName": jsii.String("GSI1PK"), "KeyType": jsii.String("HASH")},
					map[string]interface{}{"AttributeName": jsii.String("GSI1SK"), "KeyType": jsii.String("RANGE")},
				},
			}),
		}),
	})
}

func TestLogDestinations(t *testing.T) {
	tmpl := synthTemplate(t, setupTestDirs(t))

	tmpl.ResourceCountIs(jsii.String("AWS::S3::Bucket"), jsii.Number(1))
	tmpl.HasResourceProperties(jsii.String("AWS::Logs::LogGroup"), map[string]interface{}{
		"LogGroupName":    jsii.String("/stagehand/stagehand"),
		"RetentionInDays": jsii.Number(30),
	})
}

func TestReportTopic(t *testing.T) {
	cfg := setupTestDirs(t)
	cfg.NotifyEmail = "dev@example.com"
	tmpl := synthTemplate(t, cfg)

	tmpl.HasResourceProperties(jsii.String("AWS::SNS::Topic"), map[string]interface{}{
		"TopicName": jsii.String("stagehand-reports"),
	})
	tmpl.HasResourceProperties(jsii.String("AWS::SNS::Subscription"), map[string]interface{}{
		"Protocol": jsii.String("email"),
		"Endpoint": jsii.String("dev@example.com"),
	})
}

func TestRunnerFunction(t *testing.T) {
	tmpl := synthTemplate(t, setupTestDirs(t))

	tmpl.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]interface{}{
		"FunctionName":                 jsii.String("stagehand-runner"),
		"Runtime":                      jsii.String("provided.al2023"),
		"Architectures":                &[]interface{}{jsii.String("arm64")},
		"Handler":                      jsii.String("bootstrap"),
		"Timeout":                      jsii.Number(900),
		"ReservedConcurrentExecutions": jsii.Number(1),
		"Environment": assertions.Match_ObjectLike(&map[string]interface{}{
			"Variables": assertions.Match_ObjectLike(&map[string]interface{}{
				"CONFIG_PATH":   jsii.String("/var/task/stagehand.yaml"),
				"RETENTION_TTL": jsii.String("2160h"),
			}),
		}),
	})
}

func TestRunnerPermissions(t *testing.T) {
	tpl := templateJSON(t, synthTemplate(t, setupTestDirs(t)))

	require.Contains(t, tpl, "secretsmanager:GetSecretValue")
	require.Contains(t, tpl, "ses:SendRawEmail")
	require.Contains(t, tpl, "sns:Publish")
	require.Contains(t, tpl, "logs:PutLogEvents")
	require.Contains(t, tpl, "dynamodb:PutItem")
	require.NotContains(t, tpl, "codecommit:GitPull")
}

func TestPushRule(t *testing.T) {
	cfg := setupTestDirs(t)
	cfg.RepositoryArn = "arn:aws:codecommit:us-east-1:123456789012:video-app"
	tmpl := synthTemplate(t, cfg)

	tmpl.HasResourceProperties(jsii.String("AWS::Events::Rule"), map[string]interface{}{
		"EventPattern": assertions.Match_ObjectLike(&map[string]interface{}{
			"source":      &[]interface{}{jsii.String("aws.codecommit")},
			"detail-type": &[]interface{}{jsii.String("CodeCommit Repository State Change")},
			"detail": assertions.Match_ObjectLike(&map[string]interface{}{
				"referenceName": &[]interface{}{jsii.String("main")},
			}),
		}),
	})
	require.Contains(t, templateJSON(t, tmpl), "codecommit:GitPull")
}

func TestTriggers(t *testing.T) {
	cfg := setupTestDirs(t)
	tmpl := synthTemplate(t, cfg)
	tmpl.ResourceCountIs(jsii.String("AWS::Events::Rule"), jsii.Number(0))

	cfg.Schedule = "cron(0 2 * * ? *)"
	tmpl = synthTemplate(t, cfg)
	tmpl.HasResourceProperties(jsii.String("AWS::Events::Rule"), map[string]interface{}{
		"ScheduleExpression": jsii.String("cron(0 2 * * ? *)"),
	})
}

func TestStackOutputs(t *testing.T) {
	tmpl := synthTemplate(t, setupTestDirs(t))

	tmpl.HasOutput(jsii.String("TableName"), map[string]interface{}{})
	tmpl.HasOutput(jsii.String("LogBucketName"), map[string]interface{}{})
	tmpl.HasOutput(jsii.String("TopicArn"), map[string]interface{}{})
	tmpl.HasOutput(jsii.String("RunnerFunctionName"), map[string]interface{}{})
}
