// Package config handles loading and validation of stagehand.yaml project configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

// FileName is the project file looked up when Load is given a directory.
const FileName = "stagehand.yaml"

// Load reads stagehand.yaml from path, which may be the file itself or the
// directory containing it. A .env file next to the config is loaded into the
// process environment first; variables already set are not overridden.
func Load(path string) (*types.ProjectConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	dir := filepath.Dir(path)

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	switch {
	case cfg.Workspace == "":
		cfg.Workspace = abs
	case !filepath.IsAbs(cfg.Workspace):
		cfg.Workspace = filepath.Join(abs, cfg.Workspace)
	}
	return cfg, nil
}

// Parse decodes and validates a project config. Workspace is left as written.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if problems, err := validateSchema(raw); err != nil {
		return nil, err
	} else if len(problems) > 0 {
		return nil, fmt.Errorf("validating config: %s", strings.Join(problems, "; "))
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expand(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// expand substitutes ${VAR} references in settings and environment values.
// Stage commands are left for the shell.
func expand(cfg *types.ProjectConfig) {
	e := os.ExpandEnv
	cfg.Workspace = e(cfg.Workspace)
	for k, v := range cfg.Pipeline.Environment {
		cfg.Pipeline.Environment[k] = e(v)
	}
	for _, s := range cfg.Pipeline.Stages {
		for k, v := range s.Env {
			s.Env[k] = e(v)
		}
	}
	for i := range cfg.Tools {
		cfg.Tools[i].Home = e(cfg.Tools[i].Home)
	}
	if n := cfg.Notify; n != nil {
		n.Recipient = e(n.Recipient)
		for i := range n.Sinks {
			s := &n.Sinks[i]
			s.URL = e(s.URL)
			s.Path = e(s.Path)
			s.TopicARN = e(s.TopicARN)
			s.QueueURL = e(s.QueueURL)
			s.EventBus = e(s.EventBus)
			s.Host = e(s.Host)
			s.Username = e(s.Username)
			s.Password = e(s.Password)
			s.From = e(s.From)
			s.Region = e(s.Region)
		}
	}
	if s := cfg.Store; s != nil {
		s.Path = e(s.Path)
		if d := s.DynamoDB; d != nil {
			d.TableName = e(d.TableName)
			d.Region = e(d.Region)
			d.Endpoint = e(d.Endpoint)
		}
	}
	if l := cfg.Logs; l != nil {
		l.Dir = e(l.Dir)
		if l.S3 != nil {
			l.S3.Bucket = e(l.S3.Bucket)
			l.S3.Region = e(l.S3.Region)
		}
		if l.CloudWatch != nil {
			l.CloudWatch.LogGroup = e(l.CloudWatch.LogGroup)
			l.CloudWatch.Region = e(l.CloudWatch.Region)
		}
	}
	if t := cfg.Telemetry; t != nil {
		t.Endpoint = e(t.Endpoint)
	}
	if s := cfg.Server; s != nil {
		s.Addr = e(s.Addr)
		s.APIKey = e(s.APIKey)
	}
}

func validate(cfg *types.ProjectConfig) error {
	p := cfg.Pipeline
	if p.Name == "" {
		return fmt.Errorf("pipeline.name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	if err := checkDuration("pipeline.defaultTimeout", p.DefaultTimeout); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stages[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("stage %q is declared twice", s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("stage %q: command is required", s.Name)
		}
		if err := checkDuration(fmt.Sprintf("stage %q: timeout", s.Name), s.Timeout); err != nil {
			return err
		}
	}

	tools := make(map[string]bool, len(cfg.Tools))
	for i, t := range cfg.Tools {
		if t.Name == "" {
			return fmt.Errorf("tools[%d].name is required", i)
		}
		if t.Home == "" {
			return fmt.Errorf("tool %q: home is required", t.Name)
		}
		if tools[t.Name] {
			return fmt.Errorf("tool %q is declared twice", t.Name)
		}
		tools[t.Name] = true
	}

	for i, s := range cfg.Secrets {
		if s.Env == "" || s.SecretID == "" {
			return fmt.Errorf("secrets[%d]: env and secretId are required", i)
		}
	}

	if n := cfg.Notify; n != nil {
		for i, s := range n.Sinks {
			if err := validateSink(s); err != nil {
				return fmt.Errorf("notify.sinks[%d]: %w", i, err)
			}
		}
	}

	if s := cfg.Store; s != nil {
		switch s.Type {
		case types.StoreFile, types.StoreNone:
		case types.StoreDynamoDB:
			if s.DynamoDB == nil || s.DynamoDB.TableName == "" {
				return fmt.Errorf("store.dynamodb.tableName is required")
			}
			if err := checkDuration("store.dynamodb.retentionTtl", s.DynamoDB.RetentionTTL); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown store type %q", s.Type)
		}
	}

	if l := cfg.Logs; l != nil {
		if l.S3 != nil && l.S3.Bucket == "" {
			return fmt.Errorf("logs.s3.bucket is required")
		}
		if l.CloudWatch != nil && l.CloudWatch.LogGroup == "" {
			return fmt.Errorf("logs.cloudwatch.logGroup is required")
		}
	}
	return nil
}

func validateSink(s types.SinkConfig) error {
	switch s.Type {
	case types.SinkConsole, types.SinkEventBridge:
	case types.SinkFile:
		if s.Path == "" {
			return fmt.Errorf("file sink: path is required")
		}
	case types.SinkWebhook:
		if s.URL == "" {
			return fmt.Errorf("webhook sink: url is required")
		}
	case types.SinkSMTP:
		if s.Host == "" || s.From == "" {
			return fmt.Errorf("smtp sink: host and from are required")
		}
	case types.SinkSES:
		if s.From == "" {
			return fmt.Errorf("ses sink: from is required")
		}
	case types.SinkSNS:
		if s.TopicARN == "" {
			return fmt.Errorf("sns sink: topicArn is required")
		}
	case types.SinkSQS:
		if s.QueueURL == "" {
			return fmt.Errorf("sqs sink: queueUrl is required")
		}
	default:
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
	return nil
}

func checkDuration(field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, v)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive", field)
	}
	return nil
}
