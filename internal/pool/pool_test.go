package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
)

func TestPoolSubmitRunsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Workers: 2, QueueSize: 4, AcquireTimeout: time.Second})
	p.Start(ctx)

	result, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { return "done", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestPoolSubmitPropagatesTaskError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Workers: 1, QueueSize: 1, AcquireTimeout: time.Second})
	p.Start(ctx)

	wantErr := errors.New("boom")
	_, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { return nil, wantErr },
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Workers: 1, QueueSize: 1, AcquireTimeout: time.Second})
	p.Start(ctx)

	_, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { panic("worker panic") },
	})
	require.Error(t, err)

	// the pool keeps accepting work after a worker crash
	result, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { return "still alive", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "still alive", result)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.WorkerCrashes)
}

func TestPoolPerTenantConcurrencyCap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Workers: 4, QueueSize: 4, MaxPerTenant: 1, AcquireTimeout: time.Second})
	p.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	go func() {
		_, _ = p.Submit(context.Background(), Task{
			TenantID: "tenant-a",
			Run: func(ctx context.Context) (any, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			},
		})
	}()
	<-started

	submitCtx, submitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer submitCancel()
	_, err := p.Submit(submitCtx, Task{
		TenantID: "tenant-a",
		Run:      func(ctx context.Context) (any, error) { return "second", nil },
	})
	assert.Error(t, err, "a second concurrent task for the same tenant must be rejected while the cap is held")

	close(release)
}

func TestPoolSnapshotTracksCompletionCounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Workers: 2, QueueSize: 4, AcquireTimeout: time.Second})
	p.Start(ctx)

	var n atomic.Int64
	for i := 0; i < 5; i++ {
		_, _ = p.Submit(context.Background(), Task{
			Run: func(ctx context.Context) (any, error) {
				n.Add(1)
				return nil, nil
			},
		})
	}

	snap := p.Snapshot()
	assert.Equal(t, int64(5), snap.Completed)
	assert.Equal(t, int64(5), n.Load())
}

func TestPoolZeroQueueSizeRejectsWhenNoWorkerIsFree(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{Min: 1, Max: 1, QueueSize: 0, AcquireTimeout: time.Second})
	p.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	go func() {
		_, _ = p.Submit(context.Background(), Task{
			Run: func(ctx context.Context) (any, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			},
		})
	}()
	<-started

	_, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { return "second", nil },
	})
	require.Error(t, err)
	var env *errkind.PluginError
	require.True(t, errors.As(err, &env))
	assert.Equal(t, errkind.QueueFull, env.Code)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.QueueFullRejections)

	close(release)
}

func TestPoolZeroAcquireTimeoutRejectsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// no workers started: every submission sits in the queue until the
	// acquire timeout fires.
	p := New(Config{Min: 0, Max: 1, QueueSize: 1, AcquireTimeout: 0})
	p.Start(ctx)

	_, err := p.Submit(context.Background(), Task{
		Run: func(ctx context.Context) (any, error) { return "unreached", nil },
	})
	require.Error(t, err)
	var env *errkind.PluginError
	require.True(t, errors.As(err, &env))
	assert.Equal(t, errkind.AcquireTimeout, env.Code)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.AcquireTimeouts)
}

func TestWarmupConfigCount(t *testing.T) {
	w := WarmupConfig{Mode: WarmupMarked, MarkedHandlers: []string{"a", "b", "c"}, MaxHandlers: 2}
	assert.Equal(t, 2, w.count(10))

	top := WarmupConfig{Mode: WarmupTopN, TopNHandlers: []string{"a", "b", "c"}, TopN: 5}
	assert.Equal(t, 3, top.count(10))
	assert.Equal(t, 1, top.count(1))

	assert.Equal(t, 0, WarmupConfig{Mode: WarmupNone}.count(10))
}

func TestPoolStartWarmsMarkedHandlersUpToMax(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Config{
		Min:            0,
		Max:            3,
		QueueSize:      4,
		AcquireTimeout: time.Second,
		Warmup:         WarmupConfig{Mode: WarmupMarked, MarkedHandlers: []string{"a", "b", "c", "d"}, MaxHandlers: 2},
	})
	p.Start(ctx)

	snap := p.Snapshot()
	assert.Equal(t, 2, snap.Workers)
}
