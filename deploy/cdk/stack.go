package main

import (
	"path/filepath"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssnssubscriptions"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

func NewStagehandStack(scope constructs.Construct, id string, cfg StackConfig) awscdk.Stack {
	stack := awscdk.NewStack(scope, &id, nil)

	// Run reports and build counters.
	table := awsdynamodb.NewTableV2(stack, jsii.String("Table"), &awsdynamodb.TablePropsV2{
		TableName: jsii.String(cfg.Name + "-runs"),
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String("PK"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		SortKey: &awsdynamodb.Attribute{
			Name: jsii.String("SK"),
			Type: awsdynamodb.AttributeType_STRING,
		},
		Billing:             awsdynamodb.Billing_OnDemand(nil),
		TimeToLiveAttribute: jsii.String("ttl"),
		RemovalPolicy:       removalPolicy(cfg.DestroyOnDelete),
		GlobalSecondaryIndexes: &[]*awsdynamodb.GlobalSecondaryIndexPropsV2{
			{
				IndexName: jsii.String("GSI1"),
				PartitionKey: &awsdynamodb.Attribute{
					Name: jsii.String("GSI1PK"),
					Type: awsdynamodb.AttributeType_STRING,
				},
				SortKey: &awsdynamodb.Attribute{
					Name: jsii.String("GSI1SK"),
					Type: awsdynamodb.AttributeType_STRING,
				},
			},
		},
	})

	// Archived stage logs.
	bucket := awss3.NewBucket(stack, jsii.String("LogBucket"), &awss3.BucketProps{
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		EnforceSSL:        jsii.Bool(true),
		RemovalPolicy:     removalPolicy(cfg.DestroyOnDelete),
		AutoDeleteObjects: jsii.Bool(cfg.DestroyOnDelete),
		LifecycleRules: &[]*awss3.LifecycleRule{
			{Expiration: awscdk.Duration_Days(jsii.Number(cfg.LogExpiryDays))},
		},
	})

	// Streamed stage logs.
	stageLogs := awslogs.NewLogGroup(stack, jsii.String("StageLogs"), &awslogs.LogGroupProps{
		LogGroupName:  jsii.String("/stagehand/" + cfg.Name),
		Retention:     logRetentionDays(cfg.LogRetentionDays),
		RemovalPolicy: removalPolicy(cfg.DestroyOnDelete),
	})

	// Run reports.
	topic := awssns.NewTopic(stack, jsii.String("ReportTopic"), &awssns.TopicProps{
		TopicName: jsii.String(cfg.Name + "-reports"),
	})
	if cfg.NotifyEmail != "" {
		topic.AddSubscription(awssnssubscriptions.NewEmailSubscription(jsii.String(cfg.NotifyEmail), nil))
	}

	fn := awslambda.NewFunction(stack, jsii.String("runner"), &awslambda.FunctionProps{
		FunctionName:         jsii.String(cfg.Name + "-runner"),
		Runtime:              awslambda.Runtime_PROVIDED_AL2023(),
		Handler:              jsii.String("bootstrap"),
		Code:                 awslambda.Code_FromAsset(jsii.String(filepath.Join(cfg.LambdaDistDir, "runner")), nil),
		Architecture:         awslambda.Architecture_ARM_64(),
		MemorySize:           jsii.Number(cfg.MemorySize),
		EphemeralStorageSize: awscdk.Size_Mebibytes(jsii.Number(cfg.EphemeralStorage)),
		Timeout:              awscdk.Duration_Seconds(jsii.Number(cfg.Timeout)),
		Environment: &map[string]*string{
			"CONFIG_PATH":   jsii.String("/var/task/stagehand.yaml"),
			"TABLE_NAME":    table.TableName(),
			"SNS_TOPIC_ARN": topic.TopicArn(),
			"LOG_BUCKET":    bucket.BucketName(),
			"LOG_GROUP":     stageLogs.LogGroupName(),
			"RETENTION_TTL": jsii.String(cfg.RetentionTTL),
		},
		// Runs share one workspace and must not overlap.
		ReservedConcurrentExecutions: jsii.Number(1),
		LogRetention:                 logRetentionDays(cfg.LogRetentionDays),
	})

	table.GrantReadWriteData(fn)
	bucket.GrantReadWrite(fn, nil)
	stageLogs.GrantWrite(fn)
	topic.GrantPublish(fn)
	addRunnerPermissions(stack, fn, cfg)
	addTriggers(stack, fn, cfg)

	awscdk.NewCfnOutput(stack, jsii.String("TableName"), &awscdk.CfnOutputProps{
		Value: table.TableName(),
	})
	awscdk.NewCfnOutput(stack, jsii.String("LogBucketName"), &awscdk.CfnOutputProps{
		Value: bucket.BucketName(),
	})
	awscdk.NewCfnOutput(stack, jsii.String("TopicArn"), &awscdk.CfnOutputProps{
		Value: topic.TopicArn(),
	})
	awscdk.NewCfnOutput(stack, jsii.String("RunnerFunctionName"), &awscdk.CfnOutputProps{
		Value: fn.FunctionName(),
	})

	return stack
}

func addRunnerPermissions(stack awscdk.Stack, fn awslambda.Function, cfg StackConfig) {
	secretArn := stack.FormatArn(&awscdk.ArnComponents{
		Service:      jsii.String("secretsmanager"),
		Resource:     jsii.String("secret"),
		ResourceName: jsii.String(cfg.SecretPrefix + "*"),
		ArnFormat:    awscdk.ArnFormat_COLON_RESOURCE_NAME,
	})
	fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   &[]*string{jsii.String("secretsmanager:GetSecretValue")},
		Resources: &[]*string{secretArn},
	}))
	fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Actions:   &[]*string{jsii.String("ses:SendEmail"), jsii.String("ses:SendRawEmail")},
		Resources: &[]*string{jsii.String("*")},
	}))
	if cfg.RepositoryArn != "" {
		fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Actions:   &[]*string{jsii.String("codecommit:GitPull")},
			Resources: &[]*string{jsii.String(cfg.RepositoryArn)},
		}))
	}
}

func addTriggers(stack awscdk.Stack, fn awslambda.Function, cfg StackConfig) {
	target := awseventstargets.NewLambdaFunction(fn, &awseventstargets.LambdaFunctionProps{
		RetryAttempts: jsii.Number(0),
	})

	if cfg.RepositoryArn != "" {
		awsevents.NewRule(stack, jsii.String("PushRule"), &awsevents.RuleProps{
			RuleName: jsii.String(cfg.Name + "-push"),
			EventPattern: &awsevents.EventPattern{
				Source:     &[]*string{jsii.String("aws.codecommit")},
				DetailType: &[]*string{jsii.String("CodeCommit Repository State Change")},
				Resources:  &[]*string{jsii.String(cfg.RepositoryArn)},
				Detail: &map[string]interface{}{
					"event":         []string{"referenceCreated", "referenceUpdated"},
					"referenceType": []string{"branch"},
					"referenceName": []string{cfg.Branch},
				},
			},
			Targets: &[]awsevents.IRuleTarget{target},
		})
	}

	if cfg.Schedule != "" {
		awsevents.NewRule(stack, jsii.String("ScheduleRule"), &awsevents.RuleProps{
			RuleName: jsii.String(cfg.Name + "-schedule"),
			Schedule: awsevents.Schedule_Expression(jsii.String(cfg.Schedule)),
			Targets:  &[]awsevents.IRuleTarget{target},
		})
	}
}

func removalPolicy(destroy bool) awscdk.RemovalPolicy {
	if destroy {
		return awscdk.RemovalPolicy_DESTROY
	}
	return awscdk.RemovalPolicy_RETAIN
}

func logRetentionDays(days float64) awslogs.RetentionDays {
	switch days {
	case 1:
		return awslogs.RetentionDays_ONE_DAY
	case 7:
		return awslogs.RetentionDays_ONE_WEEK
	case 14:
		return awslogs.RetentionDays_TWO_WEEKS
	case 30:
		return awslogs.RetentionDays_ONE_MONTH
	case 90:
		return awslogs.RetentionDays_THREE_MONTHS
	case 365:
		return awslogs.RetentionDays_ONE_YEAR
	default:
		return awslogs.RetentionDays_ONE_MONTH
	}
}
