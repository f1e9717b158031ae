package execreq

import (
	"context"
	"log/slog"
	"sync"
)

// Metadata is the read-only identity/tracing block handed to every
// handler invocation (spec §3).
type Metadata struct {
	Host          HostKind
	PluginID      string
	PluginVersion string
	RequestID     string
	TenantID      string
	Cwd           string
	Outdir        string
	TraceID       string
	SpanID        string
}

// Logger is the minimal logging surface the execution context exposes to
// a handler; concrete implementations bind {plugin, requestId, traceId}
// once per execution (spec §4.3).
type Logger interface {
	With(args ...any) Logger
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogLogger adapts *slog.Logger to the Logger interface used by
// handlers, so the substrate's own ambient logging stack doubles as the
// handler-facing façade.
type SlogLogger struct{ L *slog.Logger }

func (s SlogLogger) With(args ...any) Logger   { return SlogLogger{L: s.L.With(args...)} }
func (s SlogLogger) Debug(msg string, a ...any) { s.L.Debug(msg, a...) }
func (s SlogLogger) Info(msg string, a ...any)  { s.L.Info(msg, a...) }
func (s SlogLogger) Warn(msg string, a ...any)  { s.L.Warn(msg, a...) }
func (s SlogLogger) Error(msg string, a ...any) { s.L.Error(msg, a...) }

// PlatformServices is the façade C3 exposes to handlers, implemented
// in-process directly by internal/platform, and over RPC by
// internal/platform/rpc in the subprocess path.
type PlatformServices interface {
	Logger() Logger
	LLM() any
	Embeddings() any
	VectorStore() any
	Cache() any
	DocumentDB() any
	SQLDB() any
	Storage() any
	Analytics() any
	EventBus() any
}

// Runtime is the sandboxed fs/fetch/env surface a handler sees; it is
// backed by internal/permissions checks on every call (C1).
type Runtime interface {
	FS() any
	Fetch() any
	Env() map[string]string
}

// API is the high-level handler surface: invoke, state, artifacts,
// shell, events, jobs, lifecycle (spec §3).
type API interface {
	Invoke() any
	State() any
	Artifacts() any
	Shell() any
	Events() any
	Jobs() any
	Lifecycle() any
}

// Finalizer is a cleanup-stack entry registered by a handler.
type Finalizer func(ctx context.Context) error

// CleanupStack is a LIFO list of finalizers, private to a single
// execution context (spec §3, §5, §8). Draining happens exactly once,
// sequentially, even if individual finalizers fail.
type CleanupStack struct {
	mu      sync.Mutex
	stack   []Finalizer
	drained bool
}

// Register appends a finalizer to the stack. Safe to call concurrently
// with other Register calls, but not with Drain.
func (c *CleanupStack) Register(f Finalizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = append(c.stack, f)
}

// Drain runs every registered finalizer in LIFO order exactly once.
// Failures are returned but do not stop the drain (spec §4.4 step 4,
// §5, §8). Calling Drain twice is a no-op on the second call.
func (c *CleanupStack) Drain(ctx context.Context) []error {
	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		return nil
	}
	c.drained = true
	stack := c.stack
	c.stack = nil
	c.mu.Unlock()

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		if err := stack[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ExecutionContext is the handler-facing object built by a runner (C4/C5)
// for a single execution (spec §3). It is never shared across
// executions; the cleanup stack and trace context it carries are
// per-execution, not module-level singletons (spec §9 "Global state").
type ExecutionContext struct {
	context.Context

	Metadata Metadata
	Platform PlatformServices
	UI       any
	Runtime  Runtime
	API      API
	Cleanup  *CleanupStack

	cancel context.CancelFunc
}

// NewExecutionContext wires a cancellable child context and a fresh
// cleanup stack for one execution.
func NewExecutionContext(parent context.Context, meta Metadata, platform PlatformServices, runtime Runtime, api API, ui any) *ExecutionContext {
	ctx, cancel := context.WithCancel(parent)
	return &ExecutionContext{
		Context:  ctx,
		Metadata: meta,
		Platform: platform,
		UI:       ui,
		Runtime:  runtime,
		API:      api,
		Cleanup:  &CleanupStack{},
		cancel:   cancel,
	}
}

// Cancel triggers the context's cancellation; a no-op once the execution
// has already returned (spec §4.4 "Cancellation after handler return is
// a no-op").
func (e *ExecutionContext) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}
