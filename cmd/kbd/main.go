// Command kbd is the daemon host adapter: it keeps a worker pool warm,
// exposes the HTTP host adapter (C13), runs the cron/interval job
// scheduler (C10), accepts webhook deliveries, and serves the platform
// RPC bridge socket (C3) for any subprocess-isolated handler. It is a
// thin composition root over the same execution substrate `kb` uses;
// there is exactly one backend/runner/orchestrator stack shared by
// both binaries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/api"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	kbconfig "github.com/KirillBaranov/kb-labs-plugin-sub002/internal/config"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/degrade"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/hostadapter"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/invoke"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/jobs"
	kblog "github.com/KirillBaranov/kb-labs-plugin-sub002/internal/log"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/orchestrator"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/platform"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/platform/rpc"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/pool"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/state"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

// loadedPlugin is one entry discovered under --plugins-dir: a parsed
// manifest plus the root directory it was read from.
type loadedPlugin struct {
	manifest *manifest.Manifest
	root     string
}

// demoHandlers mirrors cmd/kb's natively-linked handler set; kbd is the
// same "native symbol resolved by name" path spec §9 describes, only
// reached from a daemon host instead of a one-shot CLI invocation.
func demoHandlers() map[string]runner.HandlerFunc {
	return map[string]runner.HandlerFunc{
		"echo": func(ctx *execreq.ExecutionContext, input any) (any, error) {
			return input, nil
		},
		"sleep": func(ctx *execreq.ExecutionContext, input any) (any, error) {
			select {
			case <-time.After(24 * time.Hour):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func loadPlugins(dir string) (map[string]loadedPlugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("kbd: read plugins dir %s: %w", dir, err)
	}
	plugins := make(map[string]loadedPlugin)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(filepath.Join(root, "manifest.yaml"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("kbd: read manifest for %s: %w", e.Name(), err)
		}
		var m manifest.Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("kbd: parse manifest for %s: %w", e.Name(), err)
		}
		plugins[m.ID] = loadedPlugin{manifest: &m, root: root}
	}
	return plugins, nil
}

type slogAuditSink struct{ logger *slog.Logger }

func (s slogAuditSink) Record(rec permissions.AuditRecord) {
	s.logger.Debug("permission check", "class", rec.Class, "resource", rec.Resource, "allowed", rec.Allowed, "reason", rec.Reason)
}

func main() {
	var (
		configPath string
		pluginsDir string
		schedules  scheduleFlags
	)
	flag.StringVar(&configPath, "config", "", "path to kbd YAML configuration")
	flag.StringVar(&pluginsDir, "plugins-dir", "./plugins", "directory containing one subdirectory per plugin, each with a manifest.yaml")
	flag.Var(&schedules, "schedule", "pluginId:handler:cronOrInterval, repeatable; registers a recurring job at startup")
	flag.Parse()

	cfg, err := kbconfig.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := kblog.New(&kblog.Config{Level: cfg.Log.Level, Format: kblog.Format(cfg.Log.Format), AddSource: cfg.Log.AddSource})
	slog.SetDefault(logger)

	if err := run(cfg, pluginsDir, schedules, logger); err != nil {
		logger.Error("kbd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *kbconfig.Config, pluginsDir string, schedules scheduleFlags, logger *slog.Logger) error {
	plugins, err := loadPlugins(pluginsDir)
	if err != nil {
		return err
	}
	logger.Info("loaded plugins", "count", len(plugins), "dir", pluginsDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("kbd: create data dir: %w", err)
	}

	reg := runner.NewRegistry()
	for id, p := range plugins {
		for _, h := range p.manifest.Handlers {
			fn, ok := demoHandlers()[h.Ref.Export]
			if !ok {
				logger.Warn("no native implementation linked for handler export, skipping", "plugin", id, "export", h.Ref.Export)
				continue
			}
			reg.Register(id, h.Ref, fn)
		}
	}

	wsManager := workspace.NewManager(filepath.Join(cfg.DataDir, "workspaces"))
	backends := backend.NewRegistry()
	backends.Bind(backend.ModeInProcess, backend.NewInProcess(runner.New(reg, logger, nil), wsManager, logger))

	warmup := pool.WarmupConfig{Mode: pool.WarmupNone}
	for id, lp := range plugins {
		for _, h := range lp.manifest.Handlers {
			if h.Warmup.Enabled {
				warmup.Mode = pool.WarmupMarked
				warmup.MarkedHandlers = append(warmup.MarkedHandlers, id+"/"+h.Ref.Export)
			}
		}
	}

	p := pool.New(pool.Config{
		Name:                "kbd",
		Min:                 cfg.Pool.Min,
		Max:                 cfg.Pool.Max,
		QueueSize:           cfg.Pool.MaxQueueSize,
		MaxPerTenant:        cfg.Pool.MaxConcurrentPerPlugin,
		RecycleAfterN:       cfg.Pool.MaxRequestsPerWorker,
		MaxUptime:           cfg.Pool.MaxUptime,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		Warmup:              warmup,
		Logger:              logger,
	})
	backends.Bind(backend.ModePool, backend.NewPool(p, runner.New(reg, logger, nil), wsManager, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := backends.StartAll(ctx); err != nil {
		return fmt.Errorf("kbd: start backends: %w", err)
	}

	artifacts := workspace.NewArtifactWriter(cfg.DataDir)
	services := platform.NewServices(logger, filepath.Join(cfg.DataDir, "storage"), platform.Providers{})
	analytics, _ := services.Analytics().(orchestrator.Analytics)

	snapshotDir := cfg.SnapshotDir
	if snapshotDir == "" {
		snapshotDir = filepath.Join(cfg.DataDir, "snapshots")
	}
	orch := orchestrator.New(backends, orchestrator.NewSnapshotStore(snapshotDir), artifacts, analytics, logger)
	orch.SetDebug(strings.EqualFold(cfg.Log.Level, "debug"))

	invokeBroker := invoke.New(backends, func(pluginID string, ref execreq.HandlerRef) time.Duration {
		lp, ok := plugins[pluginID]
		if !ok {
			return 0
		}
		h, ok := lp.manifest.Handler(ref.Export)
		if !ok || h.Quota.TimeoutMs <= 0 {
			return 0
		}
		return time.Duration(h.Quota.TimeoutMs) * time.Millisecond
	}, logger)

	var quota *jobs.QuotaCounter
	if url := os.Getenv("KB_REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("kbd: parse KB_REDIS_URL: %w", err)
		}
		quota = jobs.NewQuotaCounter(redis.NewClient(opts))
	}

	thresholds := degrade.DefaultThresholds()
	degradeCtrl := degrade.New(thresholds, analytics, logger)
	jobsBroker := jobs.New(orch, quota, jobs.DegradeController{Controller: degradeCtrl}, logger)
	jobsBroker.Run(ctx, cfg.JobWorkers)
	jobsBroker.Scheduler().Start()
	defer jobsBroker.Scheduler().Stop()

	invokeBroker.SetPlatform(services)
	invokeBroker.SetAPIBuilder(func(calleePluginID string, chain invoke.Chain) execreq.API {
		var pc *permissions.PermissionContext
		if lp, ok := plugins[calleePluginID]; ok {
			pc = permissions.New(calleePluginID, uuid.NewString(), lp.manifest.Permissions, slogAuditSink{logger})
		}
		return api.New(api.Config{
			InvokeBroker:      invokeBroker,
			CallerPluginID:    calleePluginID,
			Chain:             chain,
			JobsBroker:        jobsBroker,
			PermissionContext: pc,
			EventBus:          services.EventBus(),
			ArtifactWriter:    artifacts,
			Cleanup:           &execreq.CleanupStack{},
			StateStore:        state.New(),
		})
	})

	go degradeLoop(ctx, p, degradeCtrl)

	issuer := rpc.NewTokenIssuer([]byte(bridgeSecret()), 5*time.Minute)
	bridgeSrv := rpc.NewServer(rpc.ServerConfig{
		SocketPath: cfg.Bridge.SocketPath,
		Issuer:     issuer,
		Logger:     logger,
		Handler:    bridgeHandler(services),
	})
	if err := bridgeSrv.Start(ctx); err != nil {
		return fmt.Errorf("kbd: start platform bridge: %w", err)
	}

	for _, spec := range schedules {
		lp, ok := plugins[spec.pluginID]
		if !ok {
			logger.Warn("skipping --schedule for unknown plugin", "plugin", spec.pluginID)
			continue
		}
		h, ok := lp.manifest.Handler(spec.handler)
		if !ok {
			logger.Warn("skipping --schedule for unknown handler", "plugin", spec.pluginID, "handler", spec.handler)
			continue
		}
		pc := permissions.New(lp.manifest.ID, uuid.NewString(), lp.manifest.Permissions, slogAuditSink{logger})
		req := submitRequestFor(lp, h, spec.pluginID, spec.handler, services, backends)
		if _, err := jobsBroker.Schedule(pc, spec.cronOrInterval, req); err != nil {
			logger.Warn("failed to register schedule", "plugin", spec.pluginID, "handler", spec.handler, "error", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Snapshot())
	})
	mux.HandleFunc("/v1/run/", runHandler(plugins, reg, orch, backends, services, artifacts, jobsBroker, invokeBroker, logger))
	mux.HandleFunc("/webhooks/", webhookHandler(plugins, orch, backends, services, logger))

	httpSrv := &http.Server{Addr: cfg.HTTP.Address, Handler: mux}
	errCh := make(chan error, 1)
	if cfg.HTTP.Enabled {
		go func() {
			logger.Info("kbd HTTP listening", "addr", cfg.HTTP.Address)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = bridgeSrv.Close()
	cancel()
	return shutdownBackends(shutdownCtx, backends)
}

func shutdownBackends(ctx context.Context, backends *backend.Registry) error {
	var errs []string
	for _, mode := range []backend.Mode{backend.ModeInProcess, backend.ModePool} {
		b, err := backends.Resolve(backend.Options{Mode: mode})
		if err != nil {
			continue
		}
		if err := b.Shutdown(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("kbd: shutdown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func degradeLoop(ctx context.Context, p *pool.Pool, ctrl *degrade.Controller) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Snapshot()
			ctrl.Observe(degrade.Signals{
				QueueDepth:    snap.QueueDepth,
				QueueCapacity: snap.QueueCapacity,
				Workers:       snap.Workers,
				Completed:     snap.Completed,
				Failed:        snap.Failed,
				P99:           snap.P99,
			})
		}
	}
}

func bridgeSecret() string {
	if s := os.Getenv("KB_BRIDGE_SECRET"); s != "" {
		return s
	}
	return uuid.NewString()
}

// bridgeHandler dispatches adapter:call frames (spec §4.3/§6) to the
// in-process platform services, the same surface C4/C6 hand a handler
// directly; a subprocess-isolated handler (C5) reaches it over the
// socket instead.
func bridgeHandler(services *platform.Services) rpc.Handler {
	return func(ctx context.Context, claims *rpc.Claims, adapterName, method string, params []byte) (any, error) {
		switch adapterName {
		case "logger":
			var args []any
			_ = json.Unmarshal(params, &args)
			services.Logger().Info(method, args...)
			return nil, nil
		case "cache":
			return nil, fmt.Errorf("kbd bridge: cache.%s not implemented over rpc in this demo daemon", method)
		default:
			return nil, fmt.Errorf("kbd bridge: unknown adapter %q", adapterName)
		}
	}
}

func submitRequestFor(lp loadedPlugin, h manifest.Handler, pluginID, handlerName string, services *platform.Services, backends *backend.Registry) jobs.SubmitRequest {
	return jobs.SubmitRequest{
		PluginID:    pluginID,
		HandlerName: handlerName,
		HandlerRef:  h.Ref,
		PluginRoot:  lp.root,
		Manifest:    lp.manifest,
		Opts:        backend.Options{Mode: backend.ModePool, Local: true},
		Platform:    services,
		Runtime:     permissions.NewRuntime(permissions.New(pluginID, uuid.NewString(), lp.manifest.Permissions, nil), lp.root, permissions.ProcessEnviron(os.Environ())),
		Granted:     lp.manifest.Capabilities,
		Descriptor: execreq.Descriptor{
			Host:        execreq.HostScheduled,
			PluginID:    pluginID,
			RequestID:   uuid.NewString(),
			Permissions: lp.manifest.Permissions,
		},
	}
}

func runHandler(plugins map[string]loadedPlugin, reg *runner.Registry, orch *orchestrator.Orchestrator, backends *backend.Registry, services *platform.Services, artifacts *workspace.ArtifactWriter, jobsBroker *jobs.Broker, invokeBroker *invoke.Broker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/run/"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			http.Error(w, "expected /v1/run/{pluginId}/{handler}", http.StatusBadRequest)
			return
		}
		pluginID, handlerName := parts[0], parts[1]
		lp, ok := plugins[pluginID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown plugin"})
			return
		}
		h, ok := lp.manifest.Handler(handlerName)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown handler"})
			return
		}

		var body any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		requestID := uuid.NewString()
		pc := permissions.New(pluginID, requestID, lp.manifest.Permissions, slogAuditSink{logger})
		cleanup := &execreq.CleanupStack{}
		facade := api.New(api.Config{
			InvokeBroker:      invokeBroker,
			CallerPluginID:    pluginID,
			JobsBroker:        jobsBroker,
			PermissionContext: pc,
			EventBus:          services.EventBus(),
			ArtifactWriter:    artifacts,
			Cleanup:           cleanup,
			StateStore:        state.New(),
		})
		rt := permissions.NewRuntime(pc, lp.root, permissions.ProcessEnviron(os.Environ()))

		req := hostadapter.BuildHTTPExecutionRequest(uuid.NewString(), hostadapter.HTTPRequest{
			PluginID:      pluginID,
			PluginVersion: lp.manifest.Version,
			RequestID:     requestID,
			PluginRoot:    lp.root,
			HandlerRef:    h.Ref,
			Permissions:   lp.manifest.Permissions,
			Method:        r.Method,
			Path:          r.URL.Path,
			Body:          body,
			TimeoutMs:     30000,
		})
		req.Workspace.Cwd = lp.root

		outcome := orch.Execute(r.Context(), req, lp.manifest, backend.Options{Mode: backend.ModePool, Local: true}, services, rt, facade, lp.manifest.Capabilities)
		cleanup.Drain(context.Background())

		var resp hostadapter.HTTPResponse
		if outcome.Err != nil {
			resp = hostadapter.WrapError(outcome.Err)
		} else {
			resp = hostadapter.WrapResult(outcome.Result)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		writeJSON(w, resp.Status, resp.Body)
	}
}

func webhookHandler(plugins map[string]loadedPlugin, orch *orchestrator.Orchestrator, backends *backend.Registry, services *platform.Services, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
		if len(parts) != 2 {
			http.Error(w, "expected /webhooks/{pluginId}/{handler}", http.StatusBadRequest)
			return
		}
		pluginID, handlerName := parts[0], parts[1]
		lp, ok := plugins[pluginID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown plugin"})
			return
		}
		h, ok := lp.manifest.Handler(handlerName)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown handler"})
			return
		}

		var payload any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		requestID := uuid.NewString()
		pc := permissions.New(pluginID, requestID, lp.manifest.Permissions, slogAuditSink{logger})
		cleanup := &execreq.CleanupStack{}
		facade := api.New(api.Config{PermissionContext: pc, EventBus: services.EventBus(), Cleanup: cleanup, StateStore: state.New()})
		rt := permissions.NewRuntime(pc, lp.root, permissions.ProcessEnviron(os.Environ()))

		req := hostadapter.BuildWebhookExecutionRequest(uuid.NewString(), hostadapter.WebhookRequest{
			PluginID:    pluginID,
			RequestID:   requestID,
			PluginRoot:  lp.root,
			HandlerRef:  h.Ref,
			Permissions: lp.manifest.Permissions,
			Event:       r.Header.Get("X-Event"),
			Source:      r.Header.Get("X-Source"),
			Payload:     payload,
			TimeoutMs:   30000,
		})
		req.Workspace.Cwd = lp.root

		outcome := orch.Execute(r.Context(), req, lp.manifest, backend.Options{Mode: backend.ModePool, Local: true}, services, rt, facade, lp.manifest.Capabilities)
		cleanup.Drain(context.Background())

		if outcome.Err != nil {
			resp := hostadapter.WrapError(outcome.Err)
			writeJSON(w, resp.Status, resp.Body)
			return
		}
		writeJSON(w, http.StatusAccepted, outcome.Result.Data)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// scheduleFlags collects repeated --schedule flags of the form
// "pluginId:handler:cronOrInterval".
type scheduleFlags []scheduleSpec

type scheduleSpec struct {
	pluginID       string
	handler        string
	cronOrInterval string
}

func (s *scheduleFlags) String() string {
	parts := make([]string, len(*s))
	for i, spec := range *s {
		parts[i] = spec.pluginID + ":" + spec.handler + ":" + spec.cronOrInterval
	}
	return strings.Join(parts, ",")
}

func (s *scheduleFlags) Set(value string) error {
	fields := strings.SplitN(value, ":", 3)
	if len(fields) != 3 {
		return fmt.Errorf("expected pluginId:handler:cronOrInterval, got %q", value)
	}
	*s = append(*s, scheduleSpec{pluginID: fields[0], handler: fields[1], cronOrInterval: fields[2]})
	return nil
}

var _ flag.Value = (*scheduleFlags)(nil)
