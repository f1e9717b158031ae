// Command kb is the CLI host adapter (C13): it turns one invocation's
// flags into an ExecutionRequest, runs it through the execute
// orchestrator (C8), and maps the outcome to a process exit code.
// Manifest loading here is a thin yaml.Unmarshal into pkg/manifest's
// struct, not the validation/discovery layer a real plugin registry
// would add (spec §1 "out of scope: manifest parsing and validation").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/api"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/debug"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/hostadapter"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/orchestrator"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/platform"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/pool"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/runner"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/state"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

// demoHandlers are the only natively-linked handlers this binary can
// dispatch to in in-process/pool mode: the spec reserves that path for
// "a native symbol resolved by name from an already-linked artifact"
// (spec §9 "dynamic handler loading"); script and subprocess-isolated
// handlers go through C5 instead, which this demo binary doesn't wire.
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

type slogAuditSink struct{ logger *slog.Logger }

func (s slogAuditSink) Record(rec permissions.AuditRecord) {
	s.logger.Debug("permission check", "class", rec.Class, "resource", rec.Resource, "allowed", rec.Allowed, "reason", rec.Reason)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := &cobra.Command{
		Use:   "kb",
		Short: "kb runs a single plugin handler invocation through the execution substrate",
	}
	root.AddCommand(newRunCommand(logger))
	root.AddCommand(newReplayCommand(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var (
		manifestPath string
		handlerName  string
		pluginRoot   string
		workDir      string
		inputJSON    string
		tenant       string
		timeoutMs    int64
		mode         string
		exitPolicy   string
		poolWorkers  int
		grants       []string
		breakpoints  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one handler invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("kb: read manifest: %w", err)
			}
			var m manifest.Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("kb: parse manifest: %w", err)
			}

			h, ok := m.Handler(handlerName)
			if !ok {
				return fmt.Errorf("kb: manifest declares no handler %q", handlerName)
			}

			var input any
			if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
				return fmt.Errorf("kb: --input is not valid JSON: %w", err)
			}

			if len(grants) == 0 {
				grants = m.Capabilities
			}

			executionID := uuid.NewString()
			requestID := uuid.NewString()

			pc := permissions.New(m.ID, requestID, m.Permissions, slogAuditSink{logger})

			wsDir := workDir
			if wsDir == "" {
				wsDir = os.TempDir()
			}
			wsManager := workspace.NewManager(wsDir)

			fn, ok := demoHandlers()[h.Ref.Export]
			if !ok {
				return fmt.Errorf("kb: no native implementation linked for handler export %q (demo binary only links {echo, sleep})", h.Ref.Export)
			}
			reg := runner.NewRegistry()
			reg.Register(m.ID, h.Ref, fn)

			backends := backend.NewRegistry()
			backends.Bind(backend.ModeInProcess, backend.NewInProcess(runner.New(reg, logger, nil), wsManager, logger))

			p := pool.New(pool.Config{Name: "kb-cli", Workers: poolWorkers, QueueSize: poolWorkers * 4, AcquireTimeout: 30 * time.Second})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			backends.Bind(backend.ModePool, backend.NewPool(p, runner.New(reg, logger, nil), wsManager, logger))
			if err := backends.StartAll(ctx); err != nil {
				return fmt.Errorf("kb: start backends: %w", err)
			}

			artifacts := workspace.NewArtifactWriter(pluginRoot)
			services := platform.NewServices(logger, os.TempDir(), platform.Providers{})
			analytics, _ := services.Analytics().(orchestrator.Analytics)
			orch := orchestrator.New(backends, orchestrator.NewSnapshotStore(os.TempDir()), artifacts, analytics, logger)

			rt := permissions.NewRuntime(pc, pluginRoot, permissions.ProcessEnviron(os.Environ()))
			cleanup := &execreq.CleanupStack{}
			apiFacade := api.New(api.Config{
				PermissionContext: pc,
				CallerPluginID:    m.ID,
				EventBus:          services.EventBus(),
				ArtifactWriter:    artifacts,
				Outdir:            workDir,
				Cleanup:           cleanup,
				StateStore:        state.New(),
			})

			req := hostadapter.BuildCLIExecutionRequest(executionID, hostadapter.CLIRequest{
				PluginID:      m.ID,
				PluginRoot:    pluginRoot,
				PluginVersion: m.Version,
				RequestID:     requestID,
				HandlerRef:    h.Ref,
				Permissions:   m.Permissions,
				Argv:          args,
				Input:         input,
				TimeoutMs:     timeoutMs,
			})
			req.Workspace.Cwd = pluginRoot
			req.Descriptor.TenantID = tenant

			outcome := orch.Execute(ctx, req, &m, backend.Options{Mode: backend.Mode(mode), Local: true}, services, rt, apiFacade, grants)

			if len(breakpoints) > 0 {
				dbg := debug.NewAdapter(debug.New(breakpoints), logger)
				go debug.NewShell(dbg).Run(ctx)
				var result any
				if outcome.Result != nil {
					result = outcome.Result.Data
				}
				if err := dbg.Pause(ctx, h.Ref.Export, requestID, result); err != nil {
					fmt.Fprintln(os.Stderr, "kb: debug session aborted:", err)
				}
				dbg.Close()
			}

			cleanup.Drain(context.Background())

			policy := hostadapter.ExitPolicy(exitPolicy)
			code := hostadapter.ExitCode(outcome.Result, outcome.Err, policy)
			if outcome.Err != nil {
				fmt.Fprintln(os.Stderr, outcome.Err)
			} else {
				out, _ := json.Marshal(outcome.Result.Data)
				fmt.Println(string(out))
			}
			os.Exit(code)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&manifestPath, "manifest", "", "path to the plugin manifest (yaml)")
	flags.StringVar(&handlerName, "handler", "", "handler name declared in the manifest")
	flags.StringVar(&pluginRoot, "plugin-root", ".", "plugin root directory")
	flags.StringVar(&workDir, "workdir", "", "workspace/artifacts directory (defaults to a temp dir)")
	flags.StringVar(&inputJSON, "input", "{}", "JSON-encoded handler input")
	flags.StringVar(&tenant, "tenant", "", "tenant ID attached to this execution")
	flags.Int64Var(&timeoutMs, "timeout-ms", 30000, "execution timeout in milliseconds")
	flags.StringVar(&mode, "mode", string(backend.ModeInProcess), "backend mode: in-process|pool")
	flags.StringVar(&exitPolicy, "exit-policy", string(hostadapter.ExitPolicyMajor), "exit code policy on error: none|major|critical")
	flags.IntVar(&poolWorkers, "pool-workers", 4, "worker count when --mode=pool")
	flags.StringSliceVar(&grants, "grant", nil, "capability granted to this run (repeatable); defaults to the manifest's own capabilities")
	flags.StringSliceVar(&breakpoints, "breakpoint", nil, "handler export to pause at before cleanup runs (repeatable); opens an interactive debug shell on stdin/stdout")

	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("handler")

	return cmd
}
