package types

// StageSpec is one named unit of pipeline work wrapping a single shell command.
type StageSpec struct {
	Name              string            `yaml:"name" json:"name"`
	Command           string            `yaml:"command" json:"command"`
	ContinueOnFailure bool              `yaml:"continueOnFailure,omitempty" json:"continueOnFailure,omitempty"`
	Tools             []string          `yaml:"tools,omitempty" json:"tools,omitempty"`
	Dir               string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env               map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout           string            `yaml:"timeout,omitempty" json:"timeout,omitempty"` // e.g. "10m"
}

// PipelineSpec is the ordered list of stages executed by one run.
type PipelineSpec struct {
	Name           string            `yaml:"name" json:"name"`
	Tools          []string          `yaml:"tools,omitempty" json:"tools,omitempty"` // required by every stage
	Environment    map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	DefaultTimeout string            `yaml:"defaultTimeout,omitempty" json:"defaultTimeout,omitempty"`
	Stages         []StageSpec       `yaml:"stages" json:"stages"`
}

// ToolNames returns the distinct tool names referenced by the pipeline and
// its stages, in first-seen order.
func (p PipelineSpec) ToolNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	for _, n := range p.Tools {
		add(n)
	}
	for _, s := range p.Stages {
		for _, n := range s.Tools {
			add(n)
		}
	}
	return names
}

// ToolBinding registers an installed tool version under a name.
type ToolBinding struct {
	Name    string `yaml:"name" json:"name"`
	Home    string `yaml:"home" json:"home"`
	Bin     string `yaml:"bin,omitempty" json:"bin,omitempty"`       // relative to home, default "bin"
	EnvVar  string `yaml:"envVar,omitempty" json:"envVar,omitempty"` // e.g. JAVA_HOME, SCANNER_HOME
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// SecretBinding maps a Secrets Manager secret into a stage environment variable.
type SecretBinding struct {
	Env      string `yaml:"env" json:"env"`
	SecretID string `yaml:"secretId" json:"secretId"`
	Key      string `yaml:"key,omitempty" json:"key,omitempty"` // JSON field within a key/value secret
}

// SinkConfig defines a notification sink configuration.
type SinkConfig struct {
	Type     SinkType `yaml:"type" json:"type"`
	URL      string   `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	TopicARN string   `yaml:"topicArn,omitempty" json:"topicArn,omitempty"`
	QueueURL string   `yaml:"queueUrl,omitempty" json:"queueUrl,omitempty"`
	EventBus string   `yaml:"eventBus,omitempty" json:"eventBus,omitempty"`
	Host     string   `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int      `yaml:"port,omitempty" json:"port,omitempty"`
	Username string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password string   `yaml:"password,omitempty" json:"password,omitempty"`
	From     string   `yaml:"from,omitempty" json:"from,omitempty"`
	Region   string   `yaml:"region,omitempty" json:"region,omitempty"`
}

// NotifyConfig controls the post-run notification.
type NotifyConfig struct {
	Recipient   string       `yaml:"recipient,omitempty" json:"recipient,omitempty"`
	Subject     string       `yaml:"subject,omitempty" json:"subject,omitempty"` // text/template over the report
	Attachments []string     `yaml:"attachments,omitempty" json:"attachments,omitempty"`
	Sinks       []SinkConfig `yaml:"sinks,omitempty" json:"sinks,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"` // DynamoDB Local
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
}

// StoreConfig selects where run reports are persisted.
type StoreConfig struct {
	Type     StoreType       `yaml:"type" json:"type"`
	Path     string          `yaml:"path,omitempty" json:"path,omitempty"`
	DynamoDB *DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// S3LogConfig archives stage logs to S3.
type S3LogConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// CloudWatchLogConfig streams stage logs to CloudWatch Logs.
type CloudWatchLogConfig struct {
	LogGroup string `yaml:"logGroup" json:"logGroup"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
}

// LogConfig controls where stage output is written.
type LogConfig struct {
	Dir        string               `yaml:"dir,omitempty" json:"dir,omitempty"`
	S3         *S3LogConfig         `yaml:"s3,omitempty" json:"s3,omitempty"`
	CloudWatch *CloudWatchLogConfig `yaml:"cloudwatch,omitempty" json:"cloudwatch,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr   string `yaml:"addr" json:"addr"`
	APIKey string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
}

// ProjectConfig represents the top-level stagehand.yaml configuration.
type ProjectConfig struct {
	Workspace string           `yaml:"workspace,omitempty"`
	Pipeline  PipelineSpec     `yaml:"pipeline"`
	Tools     []ToolBinding    `yaml:"tools,omitempty"`
	Secrets   []SecretBinding  `yaml:"secrets,omitempty"`
	Notify    *NotifyConfig    `yaml:"notify,omitempty"`
	Store     *StoreConfig     `yaml:"store,omitempty"`
	Logs      *LogConfig       `yaml:"logs,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
}
