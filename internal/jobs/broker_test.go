package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/orchestrator"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

func newTestBroker(t *testing.T, fn runner.HandlerFunc) (*Broker, manifest.Manifest, execreq.HandlerRef) {
	t.Helper()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg := runner.NewRegistry()
	reg.Register("plugin-a", ref, fn)

	backends := backend.NewRegistry()
	backends.Bind(backend.ModePool, backend.NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil))

	exec := orchestrator.New(backends, nil, nil, nil, nil)
	m := manifest.Manifest{ID: "plugin-a", Capabilities: nil}
	return New(exec, nil, nil, nil), m, ref
}

func allowSubmitContext(handler string) *permissions.PermissionContext {
	spec := execreq.PermissionSpec{
		Jobs: execreq.JobsPermission{
			Submit:   &execreq.JobPermissionBlock{Handlers: []string{handler}},
			Schedule: &execreq.JobPermissionBlock{Handlers: []string{handler}},
		},
	}
	return permissions.New("plugin-a", "req-1", spec, nil)
}

func TestBrokerSubmitRunsToCompletion(t *testing.T) {
	broker, m, ref := newTestBroker(t, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "done", nil
	})
	broker.Run(context.Background(), 2)

	handle, err := broker.Submit(context.Background(), allowSubmitContext("run"), SubmitRequest{
		PluginID: "plugin-a", HandlerName: "run", HandlerRef: ref, Manifest: &m,
		Opts: backend.Options{Mode: backend.ModePool},
	})
	require.NoError(t, err)

	result, err := handle.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result.Data)
	assert.Equal(t, StatusFinished, handle.Status())
}

func TestBrokerSubmitDeniesWithoutPermission(t *testing.T) {
	broker, m, ref := newTestBroker(t, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "done", nil
	})
	broker.Run(context.Background(), 1)

	pc := permissions.New("plugin-a", "req-1", execreq.PermissionSpec{}, nil)
	_, err := broker.Submit(context.Background(), pc, SubmitRequest{
		PluginID: "plugin-a", HandlerName: "run", HandlerRef: ref, Manifest: &m,
		Opts: backend.Options{Mode: backend.ModePool},
	})
	require.Error(t, err)
}

func TestBrokerCancelWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	broker, m, ref := newTestBroker(t, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	broker.Run(context.Background(), 1)

	handle, err := broker.Submit(context.Background(), allowSubmitContext("run"), SubmitRequest{
		PluginID: "plugin-a", HandlerName: "run", HandlerRef: ref, Manifest: &m,
		Opts: backend.Options{Mode: backend.ModePool},
	})
	require.NoError(t, err)

	<-started
	err = handle.Cancel()
	assert.NoError(t, err)
	assert.Equal(t, StatusCanceled, handle.Status())
	close(release)
}

func TestBrokerDegraderRejectsSubmission(t *testing.T) {
	broker, m, ref := newTestBroker(t, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "done", nil
	})
	broker.degrader = rejectingDegrader{}

	_, err := broker.Submit(context.Background(), allowSubmitContext("run"), SubmitRequest{
		PluginID: "plugin-a", HandlerName: "run", HandlerRef: ref, Manifest: &m,
		Opts: backend.Options{Mode: backend.ModePool},
	})
	require.Error(t, err)
}

type rejectingDegrader struct{}

func (rejectingDegrader) Consult() Decision { return Decision{Reject: true} }

func TestToCronSpec(t *testing.T) {
	cases := map[string]string{
		"5m":                    "@every 5m",
		"30s":                   "@every 30s",
		"@every 1h":             "@every 1h",
		"0 0 * * * *":           "0 0 * * * *",
	}
	for in, want := range cases {
		got, err := toCronSpec(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := toCronSpec("not-a-schedule")
	assert.Error(t, err)
}

func TestSchedulerEnforcesMinInterval(t *testing.T) {
	var calls int
	broker, m, ref := newTestBroker(t, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		calls++
		return "done", nil
	})
	broker.Run(context.Background(), 1)

	pc := allowSubmitContext("run")
	handle, err := broker.Schedule(pc, "@every 10ms", SubmitRequest{
		PluginID: "plugin-a", HandlerName: "run", HandlerRef: ref, Manifest: &m,
		Opts: backend.Options{Mode: backend.ModePool},
	})
	require.NoError(t, err)
	broker.scheduler.entries[handle.ID].minInterval = 50 * time.Millisecond

	broker.scheduler.fire(handle.ID)
	broker.scheduler.fire(handle.ID)
	broker.mu.Lock()
	submitted := len(broker.jobs)
	broker.mu.Unlock()
	assert.Equal(t, 1, submitted, "second fire within minInterval must not submit")
	handle.Cancel()
}
