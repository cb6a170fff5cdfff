package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

var testEnv = []string{"PATH=/usr/bin:/bin"}

func TestRun_Success(t *testing.T) {
	var log bytes.Buffer
	res, err := Run(context.Background(), Command{
		Script: "echo out; echo err >&2",
		Env:    testEnv,
		Output: &log,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Category)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
	assert.Equal(t, res.Output, log.String())
	assert.False(t, res.Finished.Before(res.Started))
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		script   string
		code     int
		category types.FailureCategory
	}{
		{"exit 1", 1, types.FailureTransient},
		{"exit 2", 2, types.FailurePermanent},
		{"exit 3", 3, types.FailureTransient},
		{"kill -9 $$", 137, types.FailureCrash},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			res, err := Run(context.Background(), Command{Script: tt.script, Env: testEnv})
			require.NoError(t, err)
			assert.Equal(t, tt.code, res.ExitCode)
			assert.Equal(t, tt.category, res.Category)
		})
	}
}

func TestRun_EnvIsExplicit(t *testing.T) {
	t.Setenv("STAGEHAND_LEAK", "parent")
	res, err := Run(context.Background(), Command{
		Script: `printf '%s|%s' "$STAGEHAND_LEAK" "$ONLY_HERE"`,
		Env:    append([]string{"ONLY_HERE=yes"}, testEnv...),
	})
	require.NoError(t, err)
	assert.Equal(t, "|yes", res.Output)
}

func TestRun_Dir(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), Command{Script: "pwd", Dir: dir, Env: testEnv})
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Output))
	assert.Equal(t, want, got)
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), Command{
		Script:      "sleep 10",
		Env:         testEnv,
		Timeout:     100 * time.Millisecond,
		GracePeriod: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, types.FailureTimeout, res.Category)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_StartError(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Script: "true",
		Env:    testEnv,
		Dir:    filepath.Join(t.TempDir(), "missing"),
	})
	require.Error(t, err)
	var se *StartError
	assert.True(t, errors.As(err, &se))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	require.NotNil(t, res)
	assert.Equal(t, types.FailureStart, res.Category)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRun_EmptyScript(t *testing.T) {
	_, err := Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestRun_TruncatesCapture(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Script:     "printf 0123456789",
		Env:        testEnv,
		MaxCapture: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "6789", res.Output)
	assert.True(t, res.Truncated)
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	s, trunc := tb.String()
	assert.Equal(t, "abc", s)
	assert.False(t, trunc)

	_, _ = tb.Write([]byte("def"))
	s, trunc = tb.String()
	assert.Equal(t, "bcdef", s)
	assert.True(t, trunc)

	_, _ = tb.Write([]byte("0123456"))
	s, _ = tb.String()
	assert.Equal(t, "23456", s)
}

type upperFilter struct {
	w      io.Writer
	closed bool
}

func (f *upperFilter) Write(p []byte) (int, error) {
	if _, err := f.w.Write(bytes.ToUpper(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *upperFilter) Close() error {
	f.closed = true
	return nil
}

func TestRun_FilterWrapsCaptureAndOutput(t *testing.T) {
	var log bytes.Buffer
	var filter *upperFilter
	res, err := Run(context.Background(), Command{
		Script:     "printf 'abcdefghij'",
		Env:        testEnv,
		Output:     &log,
		MaxCapture: 4,
		Filter: func(w io.Writer) io.WriteCloser {
			filter = &upperFilter{w: w}
			return filter
		},
	})
	require.NoError(t, err)
	require.NotNil(t, filter)
	assert.True(t, filter.closed)
	assert.Equal(t, "GHIJ", res.Output)
	assert.Equal(t, "ABCDEFGHIJ", log.String())
}

func TestRun_BackgroundChildHoldingOutput(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), Command{
		Script:      "sleep 5 & echo started",
		Env:         testEnv,
		GracePeriod: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Category)
	assert.True(t, res.OutputLeftOpen)
	assert.Contains(t, res.Output, "started")
}
