package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

type recordingAnalytics struct {
	events []string
}

func (r *recordingAnalytics) Emit(event string, data any) { r.events = append(r.events, event) }

func newOrchestrator(t *testing.T, handlerRef execreq.HandlerRef, fn runner.HandlerFunc) (*Orchestrator, *manifest.Manifest, *recordingAnalytics) {
	t.Helper()
	reg := runner.NewRegistry()
	reg.Register("demo-plugin", handlerRef, fn)

	backends := backend.NewRegistry()
	backends.Bind(backend.ModeInProcess, backend.NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil))

	analytics := &recordingAnalytics{}
	o := New(backends, NewSnapshotStore(filepath.Join(t.TempDir(), "snapshots")), nil, analytics, nil)

	m := &manifest.Manifest{
		ID:           "demo-plugin",
		Capabilities: []string{"net"},
		Handlers: map[string]manifest.Handler{
			"run": {Ref: handlerRef},
		},
	}
	return o, m, analytics
}

func newOrchestratorRequest(ref execreq.HandlerRef) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: "exec-orch-1",
		Descriptor: execreq.Descriptor{
			Host:     execreq.HostCLI,
			PluginID: "demo-plugin",
		},
		HandlerRef: ref,
	}
}

func TestOrchestratorExecuteSuccess(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	o, m, analytics := newOrchestrator(t, ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	outcome := o.Execute(context.Background(), newOrchestratorRequest(ref), m, backend.Options{Mode: backend.ModeInProcess}, nil, nil, nil, []string{"net"})
	require.NoError(t, outcome.Err)
	assert.Equal(t, "ok", outcome.Result.Data)
	assert.Contains(t, analytics.events, "started")
	assert.Contains(t, analytics.events, "finished")
}

func TestOrchestratorExecuteRejectsMissingCapability(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	o, m, analytics := newOrchestrator(t, ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	outcome := o.Execute(context.Background(), newOrchestratorRequest(ref), m, backend.Options{Mode: backend.ModeInProcess}, nil, nil, nil, nil)
	require.Error(t, outcome.Err)

	var pe *errkind.PluginError
	require.ErrorAs(t, outcome.Err, &pe)
	assert.Equal(t, errkind.PermissionDenied, pe.Code)
	assert.Contains(t, analytics.events, "capability.missing")
}

func TestOrchestratorExecuteValidatesInputSchema(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	o, m, _ := newOrchestrator(t, ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})
	h := m.Handlers["run"]
	h.InputSchema = manifest.Schema{
		"type":     "object",
		"required": []any{"name"},
	}
	m.Handlers["run"] = h

	req := newOrchestratorRequest(ref)
	req.Input = map[string]any{}
	outcome := o.Execute(context.Background(), req, m, backend.Options{Mode: backend.ModeInProcess}, nil, nil, nil, []string{"net"})
	require.Error(t, outcome.Err)

	var pe *errkind.PluginError
	require.ErrorAs(t, outcome.Err, &pe)
	assert.Equal(t, errkind.ValidationError, pe.Code)
}

func TestOrchestratorExecuteWritesFailureSnapshot(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg := runner.NewRegistry()
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return nil, assertErr
	})

	backends := backend.NewRegistry()
	backends.Bind(backend.ModeInProcess, backend.NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil))

	snapDir := filepath.Join(t.TempDir(), "snapshots")
	o := New(backends, NewSnapshotStore(snapDir), nil, nil, nil)

	m := &manifest.Manifest{ID: "demo-plugin", Handlers: map[string]manifest.Handler{"run": {Ref: ref}}}
	outcome := o.Execute(context.Background(), newOrchestratorRequest(ref), m, backend.Options{Mode: backend.ModeInProcess}, nil, nil, nil, nil)
	require.Error(t, outcome.Err)

	entries, err := filepathGlob(snapDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

var assertErr = errkind.New(errkind.HandlerError, "boom")

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.json"))
}
