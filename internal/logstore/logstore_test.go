package logstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_OpenAndClose(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	log, err := l.Open("run1", 3, "SonarQube Analysis")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run1", "03-sonarqube-analysis.log"), log.Path)

	_, err = io.WriteString(log, "hello\n")
	require.NoError(t, err)
	sum, err := log.Close()
	require.NoError(t, err)

	fileSum, err := HashFile(log.Path)
	require.NoError(t, err)
	assert.Equal(t, fileSum, sum)
	assert.Len(t, sum, 64)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "docker-build", sanitize("Docker Build"))
	assert.Equal(t, "a-b", sanitize("a/b"))
	assert.Equal(t, "stage", sanitize("!!!"))
}

type mockS3Client struct {
	lastInput *s3.PutObjectInput
	body      string
	err       error
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.lastInput = input
	b, _ := io.ReadAll(input.Body)
	m.body = string(b)
	return &s3.PutObjectOutput{}, m.err
}

func writeLog(t *testing.T, content string) *StageLog {
	t.Helper()
	log, err := NewLocal(t.TempDir()).Open("01J0RUN", 2, "build")
	require.NoError(t, err)
	_, err = io.WriteString(log, content)
	require.NoError(t, err)
	_, err = log.Close()
	require.NoError(t, err)
	return log
}

func TestS3Publisher(t *testing.T) {
	mock := &mockS3Client{}
	p, err := NewS3Publisher(context.Background(), "ci-logs", "/stagehand/", "eu-west-1", WithS3Client(mock))
	require.NoError(t, err)

	log := writeLog(t, "line1\nline2\n")
	require.NoError(t, p.Publish(context.Background(), "01J0RUN", log, "abc"))

	require.NotNil(t, mock.lastInput)
	assert.Equal(t, "ci-logs", *mock.lastInput.Bucket)
	assert.Equal(t, "stagehand/01J0RUN/02-build.log", *mock.lastInput.Key)
	assert.Equal(t, "abc", mock.lastInput.Metadata["sha256"])
	assert.Equal(t, "line1\nline2\n", mock.body)
	assert.Contains(t, p.RunURL("01J0RUN"), "prefix=stagehand/01J0RUN/")
	assert.Contains(t, p.RunURL("01J0RUN"), "region=eu-west-1")
}

func TestS3Publisher_Error(t *testing.T) {
	mock := &mockS3Client{err: errors.New("access denied")}
	p, err := NewS3Publisher(context.Background(), "b", "", "", WithS3Client(mock))
	require.NoError(t, err)
	err = p.Publish(context.Background(), "r", writeLog(t, "x"), "")
	assert.ErrorContains(t, err, "access denied")
}

func TestS3Publisher_RequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(context.Background(), "", "", "", WithS3Client(&mockS3Client{}))
	assert.Error(t, err)
}

type mockCloudWatch struct {
	streams   []string
	createErr error
	batches   [][]cwtypes.InputLogEvent
}

func (m *mockCloudWatch) CreateLogStream(_ context.Context, input *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	m.streams = append(m.streams, aws.ToString(input.LogStreamName))
	return &cloudwatchlogs.CreateLogStreamOutput{}, m.createErr
}

func (m *mockCloudWatch) PutLogEvents(_ context.Context, input *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	m.batches = append(m.batches, input.LogEvents)
	return &cloudwatchlogs.PutLogEventsOutput{}, nil
}

func TestCloudWatchPublisher(t *testing.T) {
	mock := &mockCloudWatch{createErr: &cwtypes.ResourceAlreadyExistsException{}}
	p, err := NewCloudWatchPublisher(context.Background(), "/stagehand/runs", "us-east-1", WithCloudWatchClient(mock))
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "01J0RUN", writeLog(t, "a\n\nb\n"), ""))
	assert.Equal(t, []string{"01J0RUN/02-build"}, mock.streams)
	require.Len(t, mock.batches, 1)
	require.Len(t, mock.batches[0], 3)
	assert.Equal(t, "a", *mock.batches[0][0].Message)
	assert.Equal(t, " ", *mock.batches[0][1].Message)
	assert.True(t, strings.HasPrefix(p.RunURL("01J0RUN"), "https://us-east-1.console.aws.amazon.com/cloudwatch/"))
}

func TestCloudWatchPublisher_CreateFails(t *testing.T) {
	mock := &mockCloudWatch{createErr: errors.New("throttled")}
	p, err := NewCloudWatchPublisher(context.Background(), "g", "", WithCloudWatchClient(mock))
	require.NoError(t, err)
	assert.ErrorContains(t, p.Publish(context.Background(), "r", writeLog(t, "x\n"), ""), "throttled")
	assert.Empty(t, mock.batches)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Name() string { return "failing" }
func (f *failingPublisher) Publish(context.Context, string, *StageLog, string) error {
	f.calls++
	return errors.New("boom")
}
func (f *failingPublisher) RunURL(runID string) string { return "remote://" + runID }

func TestStore_FinishIgnoresPublishErrors(t *testing.T) {
	dir := t.TempDir()
	pub := &failingPublisher{}
	s := New(NewLocal(dir), nil, pub)

	log, err := s.Open("r1", 1, "checkout")
	require.NoError(t, err)
	_, _ = io.WriteString(log, "ok")
	sum, err := s.Finish(context.Background(), "r1", log)
	require.NoError(t, err)
	assert.NotEmpty(t, sum)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "remote://r1", s.RunURL("r1"))

	data, err := os.ReadFile(log.Path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestStore_RunURLDefaultsToLocal(t *testing.T) {
	s, err := FromConfig(context.Background(), nil, "/var/log/stagehand", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/log/stagehand", "r1"), s.RunURL("r1"))
}
