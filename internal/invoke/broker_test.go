package invoke

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

var assertBoom = errkind.New(errkind.HandlerError, "boom")

func newTestBackends(t *testing.T, pluginID string, ref execreq.HandlerRef, fn runner.HandlerFunc) *backend.Registry {
	t.Helper()
	reg := runner.NewRegistry()
	reg.Register(pluginID, ref, fn)
	backends := backend.NewRegistry()
	backends.Bind(backend.ModePool, backend.NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil))
	backends.Bind(backend.ModeAuto, backend.NewInProcess(runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil))
	return backends
}

func TestBrokerInvokeDeniesWithoutPermission(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	backends := newTestBackends(t, "callee-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	b := New(backends, nil, nil)
	pc := permissions.New("caller-plugin", "req-1", execreq.PermissionSpec{}, nil)
	ctx := permissions.WithContext(context.Background(), pc)

	result, err := b.Invoke(ctx, Root(0, ""), "caller-plugin", Request{PluginID: "callee-plugin", Handler: ref})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.Error)
	assert.Equal(t, errkind.PermissionDenied, result.Error.Code)
}

func TestBrokerInvokeSucceedsWithAllowedTarget(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	backends := newTestBackends(t, "callee-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	b := New(backends, nil, nil)
	pc := permissions.New("caller-plugin", "req-1", execreq.PermissionSpec{
		Invoke: execreq.InvokePermission{Allow: []string{"callee-plugin"}},
	}, nil)
	ctx := permissions.WithContext(context.Background(), pc)

	result, err := b.Invoke(ctx, Root(time.Second, "trace-1"), "caller-plugin", Request{PluginID: "callee-plugin", Handler: ref})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "ok", result.Data)
}

func TestBrokerInvokeMapsHandlerFailureWithoutRaising(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	backends := newTestBackends(t, "callee-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return nil, assertBoom
	})

	b := New(backends, nil, nil)
	pc := permissions.New("caller-plugin", "req-1", execreq.PermissionSpec{
		Invoke: execreq.InvokePermission{Allow: []string{"*"}},
	}, nil)
	ctx := permissions.WithContext(context.Background(), pc)

	result, err := b.Invoke(ctx, Root(time.Second, ""), "caller-plugin", Request{PluginID: "callee-plugin", Handler: ref})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.Error)
}

func TestBrokerInvokeRejectsBeyondChainLimits(t *testing.T) {
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	backends := newTestBackends(t, "callee-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "ok", nil
	})

	b := New(backends, nil, nil)
	pc := permissions.New("caller-plugin", "req-1", execreq.PermissionSpec{
		Invoke: execreq.InvokePermission{Allow: []string{"*"}},
	}, nil)
	ctx := permissions.WithContext(context.Background(), pc)

	exhausted := Chain{Depth: DefaultMaxDepth, MaxDepth: DefaultMaxDepth, Remaining: time.Second}
	result, err := b.Invoke(ctx, exhausted, "caller-plugin", Request{PluginID: "callee-plugin", Handler: ref})
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.NotNil(t, result.Error)
	assert.Equal(t, errkind.DepthExceeded, result.Error.Code)
}
