package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func newRequest(ref execreq.HandlerRef) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: "exec-1",
		Descriptor: execreq.Descriptor{
			Host:      execreq.HostCLI,
			PluginID:  "demo-plugin",
			RequestID: "req-1",
		},
		HandlerRef: ref,
	}
}

func TestRunnerRunSuccess(t *testing.T) {
	reg := NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return map[string]any{"echo": input}, nil
	})

	r := New(reg, nil, nil)
	req := newRequest(ref)
	req.Input = "hello"
	result, err := r.Run(context.Background(), req, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "demo-plugin", result.ExecutionMeta.PluginID)
	assert.Equal(t, map[string]any{"echo": "hello"}, result.Data)
}

func TestRunnerRunHandlerNotFound(t *testing.T) {
	reg := NewRegistry()
	r := New(reg, nil, nil)

	_, err := r.Run(context.Background(), newRequest(execreq.HandlerRef{File: "missing.js", Export: "run"}), nil, nil, nil)
	require.Error(t, err)

	var pe *errkind.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errkind.HandlerNotFound, pe.Code)
}

func TestRunnerRunRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		panic("boom")
	})

	r := New(reg, nil, nil)
	_, err := r.Run(context.Background(), newRequest(ref), nil, nil, nil)
	require.Error(t, err)

	var pe *errkind.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errkind.Unknown, pe.Code)
}

func TestRunnerRunDrainsCleanupStack(t *testing.T) {
	reg := NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	var drained bool
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		ctx.Cleanup.Register(func(context.Context) error {
			drained = true
			return nil
		})
		return "ok", nil
	})

	r := New(reg, nil, nil)
	_, err := r.Run(context.Background(), newRequest(ref), nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, drained)
}

func TestRunnerRunShapeDetectsHandlerReturn(t *testing.T) {
	reg := NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return execreq.HandlerReturn{ExitCode: 0, Result: "shaped"}, nil
	})

	r := New(reg, nil, nil)
	result, err := r.Run(context.Background(), newRequest(ref), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, execreq.HandlerReturn{ExitCode: 0, Result: "shaped"}, result.Data)
}

func TestRunnerRunWrapsPlainHandlerError(t *testing.T) {
	reg := NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return nil, errors.New("plain failure")
	})

	r := New(reg, nil, nil)
	_, err := r.Run(context.Background(), newRequest(ref), nil, nil, nil)
	require.Error(t, err)

	var pe *errkind.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, errkind.HandlerError, pe.Code)
}
