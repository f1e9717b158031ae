package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func newTestRequest(t *testing.T, ref execreq.HandlerRef) *execreq.ExecutionRequest {
	t.Helper()
	return &execreq.ExecutionRequest{
		ExecutionID: "exec-inproc-1",
		Descriptor: execreq.Descriptor{
			Host:     execreq.HostCLI,
			PluginID: "demo-plugin",
		},
		PluginRoot: t.TempDir(),
		HandlerRef: ref,
		Workspace:  execreq.WorkspaceConfig{Mode: execreq.WorkspaceLocal},
	}
}

func TestInProcessExecuteStampsBackendMetadata(t *testing.T) {
	reg := runner.NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	b := NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil)
	result, err := b.Execute(context.Background(), newTestRequest(t, ref), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "in-process", result.Metadata.Backend)
	assert.NotEmpty(t, result.Metadata.WorkspaceID)
	assert.Equal(t, "ok", result.Data)
}

func TestInProcessExecutePropagatesHandlerNotFound(t *testing.T) {
	reg := runner.NewRegistry()
	b := NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil)

	_, err := b.Execute(context.Background(), newTestRequest(t, execreq.HandlerRef{File: "missing.js", Export: "run"}), nil, nil, nil)
	assert.Error(t, err)
}
