package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// ErrHandlerNotFound is returned when a request names a handler that was
// never registered.
var ErrHandlerNotFound = errors.New("runner: handler not found")

// Runner executes handlers in-process: same goroutine, same memory
// space, no isolation beyond the permission/context boundary (spec §4.4,
// the C4 "in-process" backend).
type Runner struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New builds an in-process runner over registry.
func New(registry *Registry, logger *slog.Logger, tracer trace.Tracer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger, tracer: tracer}
}

// Run executes one handler invocation end to end: resolve, build the
// execution context, call, shape-detect the return, drain cleanup.
// Panics inside the handler are recovered and classified as Unknown
// rather than crashing the caller (spec §4.4 step 6, §9 "panic safety").
func (r *Runner) Run(ctx context.Context, req *execreq.ExecutionRequest, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API) (result *execreq.RunResult, err error) {
	fn, lookupErr := r.registry.Lookup(req.Descriptor.PluginID, req.HandlerRef)
	if lookupErr != nil {
		return nil, errkind.Wrap(errkind.HandlerNotFound, lookupErr, "handler not registered")
	}

	if timeout := req.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	meta := execreq.Metadata{
		Host:          req.Descriptor.Host,
		PluginID:      req.Descriptor.PluginID,
		PluginVersion: req.Descriptor.PluginVersion,
		RequestID:     req.Descriptor.RequestID,
		TenantID:      req.Descriptor.TenantID,
		Cwd:           req.Workspace.Cwd,
		Outdir:        req.Artifacts.Outdir,
		TraceID:       spanCtx.TraceID().String(),
		SpanID:        spanCtx.SpanID().String(),
	}

	pc := permissions.New(req.Descriptor.PluginID, req.Descriptor.RequestID, req.Descriptor.Permissions, nil)
	ctx = permissions.WithContext(ctx, pc)

	execCtx := execreq.NewExecutionContext(ctx, meta, platform, runtime, api, nil)
	defer execCtx.Cancel()

	start := time.Now()
	var drainErrs []error
	defer func() {
		drainErrs = execCtx.Cleanup.Drain(context.WithoutCancel(ctx))
		for _, derr := range drainErrs {
			r.logger.Warn("cleanup finalizer failed", "plugin", req.Descriptor.PluginID, "request", req.Descriptor.RequestID, "error", derr)
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			envelope := errkind.NormalizePanic(rec)
			r.logger.Error("handler panicked", "plugin", req.Descriptor.PluginID, "request", req.Descriptor.RequestID, "panic", rec)
			err = errkind.New(envelope.Code, envelope.Message)
			result = nil
		}
	}()

	raw, callErr := fn(execCtx, req.Input)
	if callErr != nil {
		return nil, normalizeHandlerError(callErr)
	}

	data := shapeResult(raw)
	return &execreq.RunResult{
		Data: data,
		ExecutionMeta: execreq.ExecutionMeta{
			StartTime:     start,
			EndTime:       time.Now(),
			Duration:      time.Since(start),
			PluginID:      req.Descriptor.PluginID,
			PluginVersion: req.Descriptor.PluginVersion,
			HandlerID:     fmt.Sprintf("%s#%s", req.HandlerRef.File, req.HandlerRef.Export),
			RequestID:     req.Descriptor.RequestID,
			TenantID:      req.Descriptor.TenantID,
		},
	}, nil
}

// shapeResult implements the spec's return-shape detection (§4.4 step
// 3): if the handler already returned something shaped like
// HandlerReturn, it is kept as-is as the data (a pointer is
// dereferenced); otherwise the raw return value is the data verbatim.
func shapeResult(raw any) any {
	if hr, ok := raw.(execreq.HandlerReturn); ok {
		return hr
	}
	if hr, ok := raw.(*execreq.HandlerReturn); ok && hr != nil {
		return *hr
	}
	return raw
}

func normalizeHandlerError(err error) error {
	var pe *errkind.PluginError
	if errors.As(err, &pe) {
		return pe
	}
	return errkind.Wrap(errkind.HandlerError, err, "handler returned an error")
}
