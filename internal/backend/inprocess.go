package backend

import (
	"context"
	"log/slog"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// InProcess wraps the in-process runner (C4) behind the façade, leasing
// a workspace (C2) for each execution and stamping the result with this
// backend's identity.
type InProcess struct {
	runner    *runner.Runner
	workspace *workspace.Manager
	logger    *slog.Logger
}

// NewInProcess builds the in-process backend.
func NewInProcess(r *runner.Runner, ws *workspace.Manager, logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcess{runner: r, workspace: ws, logger: logger}
}

func (b *InProcess) Name() string { return string(ModeInProcess) }

func (b *InProcess) Execute(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (*execreq.RunResult, error) {
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

	result, err := b.runner.Run(ctx, req, platform, runtime, api)
	if err != nil {
		return nil, err
	}
	result.Metadata = execreq.BackendMeta{
		Backend:     b.Name(),
		WorkspaceID: lease.Root,
	}
	return result, nil
}

func (b *InProcess) Health(ctx context.Context) Health {
	return Health{Healthy: true}
}

func (b *InProcess) Stats() any { return nil }

func (b *InProcess) Shutdown(ctx context.Context) error { return nil }
