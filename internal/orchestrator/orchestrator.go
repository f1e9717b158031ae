// Package orchestrator implements the execute orchestrator (C8): the
// per-invocation pipeline wrapped around the execution backend façade
// (C7): capability check, handler-quota timeout clamp, input/output
// schema validation, artifact collection, failure snapshotting, and
// analytics. No invoke-chain budget is derived here.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

// Analytics receives orchestration lifecycle events. platform.Services'
// Analytics() façade satisfies this.
type Analytics interface {
	Emit(event string, data any)
}

// ArtifactWriter persists declared output artifacts under an outdir
// after a successful execution (spec §4.8 step 7).
type ArtifactWriter interface {
	Write(ctx context.Context, outdir string, patterns []string) error
}

// Orchestrator runs the full C8 pipeline around one backend façade.
type Orchestrator struct {
	backends  *backend.Registry
	snapshots *SnapshotStore
	artifacts ArtifactWriter
	analytics Analytics
	logger    *slog.Logger
	debug     bool
}

// SetDebug toggles insight synthesis (spec §4.8 step 10 "when debug
// level is on"). Off by default; hosts flip it on from a log-level or
// CLI-flag setting of their own.
func (o *Orchestrator) SetDebug(enabled bool) { o.debug = enabled }

// New builds an orchestrator. snapshots and artifacts may be nil to
// disable those steps (a nil ArtifactWriter skips artifact collection
// entirely, a nil SnapshotStore skips failure snapshotting).
func New(backends *backend.Registry, snapshots *SnapshotStore, artifacts ArtifactWriter, analytics Analytics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{backends: backends, snapshots: snapshots, artifacts: artifacts, analytics: analytics, logger: logger}
}

// Outcome is the result of running the full pipeline: either Result is
// set (success) or Err is set (failure), never both.
type Outcome struct {
	Result *execreq.RunResult
	Err    error
}

// Execute runs req against m's declared handler under the full
// pipeline: capability check, input validation, clamping the timeout to
// the handler's quota, the backend call, output validation, artifact
// collection, and snapshot on failure. Invoke-chain depth, hop and
// budget limits are not applied here.
func (o *Orchestrator) Execute(ctx context.Context, req *execreq.ExecutionRequest, m *manifest.Manifest, opts backend.Options, platform execreq.PlatformServices, runtime execreq.Runtime, api execreq.API, granted []string) Outcome {
	o.emit("started", req)
	start := time.Now()
	metrics := newRunMetrics()
	metrics.TimeoutMs = req.TimeoutMs

	handlerName := req.HandlerRef.Export
	h, ok := m.Handler(handlerName)
	if !ok {
		h, ok = m.Handler(req.ExportName)
	}

	if err := checkCapabilities(m, granted); err != nil {
		o.emit("capability.missing", req)
		return o.fail(ctx, req, err, start)
	}

	phase := time.Now()
	if ok && h.InputSchema != nil {
		if err := Validate(h.InputSchema, req.Input); err != nil {
			o.emit("validation.failed", req)
			return o.fail(ctx, req, errkind.Wrap(errkind.ValidationError, err, "input validation failed"), start)
		}
	}
	metrics.mark("input_validation", time.Since(phase))

	if ok && h.Quota.TimeoutMs > 0 {
		req.TimeoutMs = minPositive(req.TimeoutMs, h.Quota.TimeoutMs)
		metrics.TimeoutMs = req.TimeoutMs
	}

	b, err := o.backends.Resolve(opts)
	if err != nil {
		return o.fail(ctx, req, err, start)
	}

	phase = time.Now()
	result, err := b.Execute(ctx, req, platform, runtime, api)
	metrics.mark("backend_execute", time.Since(phase))
	if err != nil {
		return o.fail(ctx, req, err, start)
	}

	phase = time.Now()
	if ok && h.OutputSchema != nil {
		if err := Validate(h.OutputSchema, result.Data); err != nil {
			return o.fail(ctx, req, errkind.Wrap(errkind.ValidationError, err, "output validation failed"), start)
		}
	}
	metrics.mark("output_validation", time.Since(phase))

	if ok && o.artifacts != nil && len(h.Artifacts.Patterns) > 0 {
		phase = time.Now()
		if err := o.artifacts.Write(ctx, req.Artifacts.Outdir, h.Artifacts.Patterns); err != nil {
			o.logger.Warn("artifact write failed", "plugin", req.Descriptor.PluginID, "error", err)
			o.emit("artifact.failed", req)
		}
		metrics.mark("artifacts", time.Since(phase))
	}

	metrics.Elapsed = time.Since(start)
	o.emit("finished", req)
	o.logger.Info("execution finished", "plugin", req.Descriptor.PluginID, "request", req.Descriptor.RequestID, "duration", metrics.Elapsed)

	if o.debug {
		for _, insight := range Synthesize(*metrics) {
			o.logger.Debug("execution insight", "plugin", req.Descriptor.PluginID, "request", req.Descriptor.RequestID, "level", insight.Level, "message", insight.Message)
			o.emit("insight", req)
		}
	}

	return Outcome{Result: result}
}

func (o *Orchestrator) fail(ctx context.Context, req *execreq.ExecutionRequest, err error, start time.Time) Outcome {
	o.emit("failed", req)
	if o.snapshots != nil {
		snap := Snapshot{
			Command:       string(req.Descriptor.Host),
			Plugin:        req.Descriptor.PluginID,
			PluginVersion: req.Descriptor.PluginVersion,
			PluginRoot:    req.PluginRoot,
			HandlerFile:   req.HandlerRef.File,
			HandlerExport: req.HandlerRef.Export,
			RequestID:     req.Descriptor.RequestID,
			TenantID:      req.Descriptor.TenantID,
			TimeoutMs:     req.TimeoutMs,
			Input:         req.Input,
			Error:         err.Error(),
			CreatedAt:     start,
		}
		if saveErr := o.snapshots.Save(context.WithoutCancel(ctx), req.ExecutionID, snap); saveErr != nil {
			o.logger.Warn("failure snapshot write failed", "error", saveErr)
		}
	}
	return Outcome{Err: err}
}

func (o *Orchestrator) emit(event string, req *execreq.ExecutionRequest) {
	if o.analytics == nil {
		return
	}
	o.analytics.Emit(event, map[string]any{
		"pluginId":  req.Descriptor.PluginID,
		"requestId": req.Descriptor.RequestID,
	})
}

func checkCapabilities(m *manifest.Manifest, granted []string) error {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	var missing []string
	for _, cap := range m.Capabilities {
		if _, ok := grantedSet[cap]; !ok {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return errkind.Newf(errkind.PermissionDenied, "capability missing: %v", missing)
	}
	return nil
}

func minPositive(a, b int64) int64 {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
