package main

// StackConfig holds configuration for the Stagehand CDK stack.
type StackConfig struct {
	Name             string
	MemorySize       float64
	EphemeralStorage float64 // MiB of /tmp for the workspace
	Timeout          float64
	LambdaDistDir    string
	RetentionTTL     string
	LogRetentionDays float64
	LogExpiryDays    float64
	DestroyOnDelete  bool

	// Trigger: a CodeCommit repository and branch, a schedule, or both.
	RepositoryArn string
	Branch        string
	Schedule      string // EventBridge schedule expression, e.g. "cron(0 2 * * ? *)"

	SecretPrefix string // Secrets Manager names the runner may read
	NotifyEmail  string // subscribed to the report topic when set
}

// DefaultConfig returns a StackConfig with sensible defaults.
func DefaultConfig() StackConfig {
	return StackConfig{
		Name:             "stagehand",
		MemorySize:       1024,
		EphemeralStorage: 4096,
		Timeout:          900,
		LambdaDistDir:    "../dist/lambda",
		RetentionTTL:     "2160h",
		LogRetentionDays: 30,
		LogExpiryDays:    90,
		Branch:           "main",
		SecretPrefix:     "stagehand/",
	}
}
