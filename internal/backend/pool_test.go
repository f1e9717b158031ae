package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/pool"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestPoolBackendExecuteRunsThroughWorkerPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := runner.NewRegistry()
	ref := execreq.HandlerRef{File: "index.js", Export: "run"}
	reg.Register("demo-plugin", ref, func(ctx *execreq.ExecutionContext, input any) (any, error) {
		return "pooled", nil
	})

	p := pool.New(pool.Config{Workers: 2, QueueSize: 2, AcquireTimeout: time.Second})
	b := NewPool(p, runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil)
	require.NoError(t, b.Start(ctx))

	result, err := b.Execute(context.Background(), newTestRequest(t, ref), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pool", result.Metadata.Backend)
	assert.Equal(t, "pooled", result.Data)
}

func TestPoolBackendHealthReflectsQueueSaturation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := runner.NewRegistry()
	p := pool.New(pool.Config{Workers: 1, QueueSize: 1, AcquireTimeout: time.Second})
	b := NewPool(p, runner.New(reg, nil, nil), workspace.NewManager(t.TempDir()), nil)
	require.NoError(t, b.Start(ctx))

	health := b.Health(context.Background())
	assert.True(t, health.Healthy)
}
