package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/stagehand/internal/notify"
	"github.com/dwsmith1983/stagehand/internal/store"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

type recordSink struct {
	mu   sync.Mutex
	msgs []*types.Message
}

func (r *recordSink) Name() string { return "record" }
func (r *recordSink) Send(_ context.Context, m *types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func testConfig(t *testing.T) *types.ProjectConfig {
	t.Helper()
	return &types.ProjectConfig{
		Workspace: t.TempDir(),
		Pipeline: types.PipelineSpec{
			Name: "video-app",
			Stages: []types.StageSpec{
				{Name: "scan", Command: "echo 0 vulnerabilities > trivyfs.txt"},
				{Name: "gate", Command: "exit 1", ContinueOnFailure: true},
			},
		},
		Notify: &types.NotifyConfig{Recipient: "devops@example.com", Attachments: []string{"trivyfs.txt"}},
	}
}

func TestBuild_ExecutePersistsAndNotifies(t *testing.T) {
	cfg := testConfig(t)
	sink := &recordSink{}
	a, err := Build(context.Background(), cfg, Options{
		BaseEnv: []string{"PATH=" + os.Getenv("PATH")},
		Sinks:   []notify.Sink{sink},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	report, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, report.Outcome)
	assert.True(t, report.Degraded)
	assert.Equal(t, int64(1), report.BuildNumber)

	require.Len(t, sink.msgs, 1)
	msg := sink.msgs[0]
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "0 vulnerabilities\n", string(msg.Attachments[0].Data))

	got, err := a.Store.GetReport(context.Background(), report.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report.RunID, got.RunID)

	assert.FileExists(t, report.Stages[0].LogPath)
	assert.Equal(t, filepath.Join(cfg.Workspace, stateDir, "logs", report.RunID), report.LogURL)
}

type stopCountingStore struct {
	*store.Memory
	started, stopped int
}

func (s *stopCountingStore) Start(ctx context.Context) error {
	s.started++
	return s.Memory.Start(ctx)
}

func (s *stopCountingStore) Stop(ctx context.Context) error {
	s.stopped++
	return s.Memory.Stop(ctx)
}

func TestBuild_StopsStoreWhenLaterSetupFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify = &types.NotifyConfig{Subject: "{{.Nope"}
	st := &stopCountingStore{Memory: store.NewMemory()}

	a, err := Build(context.Background(), cfg, Options{Store: st})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating notifier")
	assert.Nil(t, a)
	assert.Equal(t, 1, st.started)
	assert.Equal(t, 1, st.stopped)
}

func TestBuild_UsesInjectedStore(t *testing.T) {
	cfg := testConfig(t)
	st := &stopCountingStore{Memory: store.NewMemory()}
	a, err := Build(context.Background(), cfg, Options{
		BaseEnv: []string{"PATH=" + os.Getenv("PATH")},
		Sinks:   []notify.Sink{&recordSink{}},
		Store:   st,
	})
	require.NoError(t, err)

	report, err := a.Execute(context.Background())
	require.NoError(t, err)
	got, err := st.GetReport(context.Background(), report.RunID)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, 1, st.stopped)
}

func TestNewStore(t *testing.T) {
	cfg := &types.ProjectConfig{Workspace: t.TempDir()}

	st, err := NewStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.File{}, st)

	cfg.Store = &types.StoreConfig{Type: types.StoreNone}
	st, err = NewStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, st)

	cfg.Store = &types.StoreConfig{Type: "etcd"}
	_, err = NewStore(context.Background(), cfg, nil)
	assert.Error(t, err)
}
