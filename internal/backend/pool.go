package backend

import (
	"context"
	"log/slog"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/pool"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Pool wraps the worker pool backend (C6) behind the façade: each
// Execute call becomes one pool.Task, bounded by the pool's queue and
// per-tenant concurrency cap rather than running inline.
type Pool struct {
	pool      *pool.Pool
	runner    *runner.Runner
	workspace *workspace.Manager
	logger    *slog.Logger
}

// NewPool builds the worker-pool backend over an already-constructed
// pool.Pool (Start must be called separately, or via this type's
// Start method, before Execute is used).
func NewPool(p *pool.Pool, r *runner.Runner, ws *workspace.Manager, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{pool: p, runner: r, workspace: ws, logger: logger}
}

func (b *Pool) Name() string { return string(ModePool) }

// Start launches the underlying worker pool's goroutines.
func (b *Pool) Start(ctx context.Context) error {
	b.pool.Start(ctx)
	return nil
}

func (b *Pool) Execute(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (*execreq.RunResult, error) {
	lease, err := b.workspace.Lease(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if lease.Mode == execreq.WorkspaceEphemeral {
			_ = b.workspace.Release(context.WithoutCancel(ctx), req.ExecutionID)
		}
	}()
	req.Workspace.Cwd = lease.Root

	value, err := b.pool.Submit(ctx, pool.Task{
		TenantID: req.Descriptor.TenantID,
		Run: func(ctx context.Context) (any, error) {
			return b.runner.Run(ctx, req, platform, runtime, api)
		},
	})
	if err != nil {
		return nil, err
	}

	result, ok := value.(*execreq.RunResult)
	if !ok {
		return nil, errkind.New(errkind.HandlerError, "pool backend: handler task returned an unexpected value")
	}
	result.Metadata = execreq.BackendMeta{
		Backend:     b.Name(),
		WorkspaceID: lease.Root,
	}
	return result, nil
}

func (b *Pool) Health(ctx context.Context) Health {
	snap := b.pool.Snapshot()
	if snap.QueueDepth >= snap.QueueCapacity {
		return Health{Healthy: false, Detail: "queue saturated"}
	}
	return Health{Healthy: true}
}

func (b *Pool) Stats() any { return b.pool.Snapshot() }

func (b *Pool) Shutdown(ctx context.Context) error {
	b.pool.Wait()
	return nil
}
