package backend

import (
	"context"
	"log/slog"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/platform/rpc"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner/subprocess"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// SpecResolver maps an ExecutionRequest to the subprocess spawn spec for
// its plugin runtime (which bootstrap binary to run, in which
// directory, with which environment). A manifest-driven resolver lives
// above this package; the façade only needs the resolved result.
type SpecResolver func(req *execreq.ExecutionRequest, lease *workspace.Lease) (subprocess.Spec, error)

// Subprocess wraps the subprocess-isolated runner (C5) behind the
// façade, issuing each invocation a fresh execution-scoped bridge token
// so the spawned process can call back into the platform bridge (C3).
type Subprocess struct {
	runner    *subprocess.Runner
	workspace *workspace.Manager
	tokens    *rpc.TokenIssuer
	socket    string
	resolve   SpecResolver
	logger    *slog.Logger
}

// NewSubprocess builds the subprocess backend. socket is the Unix
// domain socket path the platform bridge server (C3) is already
// listening on.
func NewSubprocess(r *subprocess.Runner, ws *workspace.Manager, tokens *rpc.TokenIssuer, socket string, resolve SpecResolver, logger *slog.Logger) *Subprocess {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subprocess{runner: r, workspace: ws, tokens: tokens, socket: socket, resolve: resolve, logger: logger}
}

func (b *Subprocess) Name() string { return string(ModeSubprocess) }

func (b *Subprocess) Execute(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (*execreq.RunResult, error) {
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

	spec, err := b.resolve(req, lease)
	if err != nil {
		return nil, err
	}

	token, err := b.tokens.Issue(req.ExecutionID, req.Descriptor.PluginID)
	if err != nil {
		return nil, err
	}
	spec.BridgeSocketPath = b.socket
	spec.BridgeToken = token

	result, err := b.runner.Run(ctx, req, spec)
	if err != nil {
		return nil, err
	}
	result.Metadata = execreq.BackendMeta{
		Backend:     b.Name(),
		WorkspaceID: lease.Root,
	}
	return result, nil
}

func (b *Subprocess) Health(ctx context.Context) Health {
	return Health{Healthy: true}
}

func (b *Subprocess) Stats() any { return nil }

func (b *Subprocess) Shutdown(ctx context.Context) error { return nil }
