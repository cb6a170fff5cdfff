// Package types defines the public domain types for the stagehand stage runner.
package types

// Outcome is the overall result of a finalized run.
type Outcome string

// Outcome values enumerate the possible run results.
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeAborted Outcome = "ABORTED"
)

// StageStatus is the result of a single executed stage.
type StageStatus string

// StageStatus values enumerate the possible stage results.
const (
	StagePassed StageStatus = "PASSED"
	StageFailed StageStatus = "FAILED"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

// RunStatus values represent the lifecycle states of a pipeline run.
const (
	RunPending   RunStatus = "PENDING"
	RunResolving RunStatus = "RESOLVING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunAborted   RunStatus = "ABORTED"
)

// FailureCategory classifies why a stage failed.
type FailureCategory string

const (
	FailureTransient FailureCategory = "TRANSIENT"
	FailurePermanent FailureCategory = "PERMANENT"
	FailureTimeout   FailureCategory = "TIMEOUT"
	FailureCrash     FailureCategory = "CRASH"
	FailureStart     FailureCategory = "START"
)

// SinkType defines the notification sink type.
type SinkType string

// SinkType values enumerate the supported notification backends.
const (
	SinkConsole     SinkType = "console"
	SinkFile        SinkType = "file"
	SinkWebhook     SinkType = "webhook"
	SinkSMTP        SinkType = "smtp"
	SinkSES         SinkType = "ses"
	SinkSNS         SinkType = "sns"
	SinkSQS         SinkType = "sqs"
	SinkEventBridge SinkType = "eventbridge"
)

// StoreType selects the report store backend.
type StoreType string

const (
	StoreFile     StoreType = "file"
	StoreDynamoDB StoreType = "dynamodb"
	StoreNone     StoreType = "none"
)
