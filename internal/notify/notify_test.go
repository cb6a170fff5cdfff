package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

type recordSink struct {
	name string
	mu   sync.Mutex
	msgs []*types.Message
}

func (r *recordSink) Name() string { return r.name }
func (r *recordSink) Send(_ context.Context, msg *types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

type errSink struct {
	name  string
	err   error
	calls int
	mu    sync.Mutex
}

func (e *errSink) Name() string { return e.name }
func (e *errSink) Send(context.Context, *types.Message) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.err
}

func testReport() *types.RunReport {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &types.RunReport{
		RunID:       "01HRUNID",
		Pipeline:    "video-app",
		BuildNumber: 42,
		Outcome:     types.OutcomeAborted,
		Stages: []types.StageResult{
			{Name: "checkout", Status: types.StagePassed, StartTime: start, EndTime: start.Add(2 * time.Second)},
			{Name: "quality-gate", Status: types.StageFailed, ExitStatus: 1, StartTime: start.Add(2 * time.Second), EndTime: start.Add(5 * time.Second)},
		},
		StartedAt:  start,
		FinishedAt: start.Add(5 * time.Second),
		LogURL:     "/var/log/stagehand/01HRUNID",
	}
}

func TestNotify_DeliversToEverySinkOnce(t *testing.T) {
	a, b := &recordSink{name: "a"}, &recordSink{name: "b"}
	n, err := New(context.Background(), &types.NotifyConfig{Recipient: "dev@example.com"}, "", WithSinks(a, b))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, n.Sinks())

	require.NoError(t, n.Notify(context.Background(), testReport()))
	require.Len(t, a.msgs, 1)
	require.Len(t, b.msgs, 1)
	assert.Same(t, a.msgs[0], b.msgs[0])
	assert.Equal(t, "dev@example.com", a.msgs[0].Recipient)
	assert.Equal(t, "[ABORTED] video-app build #42", a.msgs[0].Subject)
}

func TestNotify_FailureReportsSinks(t *testing.T) {
	ok := &recordSink{name: "ok"}
	relayErr := errors.New("connection refused")
	bad := &errSink{name: "smtp", err: relayErr}
	n, err := New(context.Background(), nil, "", WithSinks(ok, bad))
	require.NoError(t, err)

	report := testReport()
	err = n.Notify(context.Background(), report)
	require.Error(t, err)

	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	require.Len(t, ne.Failures, 1)
	assert.Equal(t, "smtp", ne.Failures[0].Sink)
	assert.ErrorIs(t, err, relayErr)
	assert.Contains(t, err.Error(), "smtp: connection refused")

	assert.Len(t, ok.msgs, 1)
	assert.Equal(t, types.OutcomeAborted, report.Outcome)
}

func TestNotify_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	bad := &errSink{name: "webhook", err: errors.New("503")}
	n, err := New(context.Background(), nil, "", WithSinks(bad))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_ = n.Notify(context.Background(), testReport())
	}
	assert.Equal(t, 3, bad.calls)
}

func TestNotify_Observer(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]error{}
	bad := &errSink{name: "bad", err: errors.New("x")}
	n, err := New(context.Background(), nil, "",
		WithSinks(&recordSink{name: "good"}, bad),
		WithObserver(func(sink string, err error) {
			mu.Lock()
			seen[sink] = err
			mu.Unlock()
		}))
	require.NoError(t, err)
	_ = n.Notify(context.Background(), testReport())

	assert.NoError(t, seen["good"])
	assert.Error(t, seen["bad"])
}

func TestNotify_NilReport(t *testing.T) {
	n, err := New(context.Background(), nil, "", WithSinks(&recordSink{name: "a"}))
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), nil))
}

func TestNew_DefaultsToConsole(t *testing.T) {
	n, err := New(context.Background(), &types.NotifyConfig{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"console"}, n.Sinks())
}

func TestNew_SinkValidation(t *testing.T) {
	tests := []struct {
		cfg  types.SinkConfig
		want string
	}{
		{types.SinkConfig{Type: types.SinkWebhook}, "webhook URL required"},
		{types.SinkConfig{Type: types.SinkFile}, "file path required"},
		{types.SinkConfig{Type: types.SinkSMTP, From: "ci@example.com"}, "smtp host required"},
		{types.SinkConfig{Type: types.SinkSNS}, "SNS topic ARN required"},
		{types.SinkConfig{Type: types.SinkSQS}, "SQS queue URL required"},
		{types.SinkConfig{Type: "pager"}, "unknown sink type"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cfg.Type), func(t *testing.T) {
			_, err := New(context.Background(), &types.NotifyConfig{Sinks: []types.SinkConfig{tt.cfg}}, "")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestNew_BuildsLocalSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.jsonl")
	n, err := New(context.Background(), &types.NotifyConfig{Sinks: []types.SinkConfig{
		{Type: types.SinkConsole},
		{Type: types.SinkFile, Path: path},
		{Type: types.SinkWebhook, URL: "http://localhost:1/hook"},
		{Type: types.SinkSMTP, Host: "mail.example.com", From: "ci@example.com"},
	}}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"console", "file", "webhook", "smtp"}, n.Sinks())
}

func TestCompose_AttachmentsAndWarnings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trivyfs.txt"), []byte("0 vulnerabilities"), 0o644))

	c, err := NewComposer(&types.NotifyConfig{
		Recipient:   "dev@example.com",
		Attachments: []string{"trivyfs.txt", "dependency-check-report.xml"},
	}, dir)
	require.NoError(t, err)

	msg, err := c.Compose(testReport())
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "trivyfs.txt", msg.Attachments[0].Name)
	assert.True(t, strings.HasPrefix(msg.Attachments[0].ContentType, "text/plain"))
	assert.Equal(t, "0 vulnerabilities", string(msg.Attachments[0].Data))

	require.Len(t, msg.Warnings, 1)
	assert.Contains(t, msg.Warnings[0], "dependency-check-report.xml")
	assert.Contains(t, msg.Warnings[0], "file not found")
}

func TestCompose_Bodies(t *testing.T) {
	c, err := NewComposer(&types.NotifyConfig{Subject: "Build {{.BuildNumber}}: {{.Outcome}}"}, "")
	require.NoError(t, err)

	report := testReport()
	report.Stages[0].Name = "<script>"
	msg, err := c.Compose(report)
	require.NoError(t, err)

	assert.Equal(t, "Build 42: ABORTED", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "01HRUNID")
	assert.Contains(t, msg.HTMLBody, "quality-gate")
	assert.Contains(t, msg.HTMLBody, `href="/var/log/stagehand/01HRUNID"`)
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
	assert.NotContains(t, msg.HTMLBody, "<script>")

	assert.Contains(t, msg.TextBody, "video-app build #42: ABORTED")
	assert.Contains(t, msg.TextBody, "2. quality-gate: FAILED (exit 1, 3s)")
	assert.Contains(t, msg.TextBody, "Full log: /var/log/stagehand/01HRUNID")
}

func TestCompose_NoStages(t *testing.T) {
	c, err := NewComposer(&types.NotifyConfig{}, "")
	require.NoError(t, err)
	report := &types.RunReport{RunID: "r", Pipeline: "p", Outcome: types.OutcomeFailed, Error: `tool "node16" is not configured`}

	msg, err := c.Compose(report)
	require.NoError(t, err)
	assert.Contains(t, msg.TextBody, "No stages were executed.")
	assert.Contains(t, msg.TextBody, "node16")
	assert.Contains(t, msg.HTMLBody, "No stages were executed.")
}

func TestNewComposer_BadSubject(t *testing.T) {
	_, err := NewComposer(&types.NotifyConfig{Subject: "{{.Nope"}, "")
	assert.Error(t, err)
}
