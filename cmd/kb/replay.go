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

// newReplayCommand implements `kb replay <snapshot-id>`: it reloads a
// persisted failure snapshot and resubmits it through the same
// orchestrator pipeline newRunCommand uses, with optionally overridden
// input fields.
func newReplayCommand(logger *slog.Logger) *cobra.Command {
	var (
		manifestPath string
		snapshotDir  string
		pluginRoot   string
		mode         string
		poolWorkers  int
		exitPolicy   string
		sets         []string
	)

	cmd := &cobra.Command{
		Use:   "replay <snapshot-id>",
		Short: "Resubmit a persisted failure snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executionID := args[0]

			store := orchestrator.NewSnapshotStore(snapshotDir)
			snap, err := store.Load(executionID)
			if err != nil {
				return fmt.Errorf("kb replay: %w", err)
			}

			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("kb replay: read manifest: %w", err)
			}
			var m manifest.Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("kb replay: parse manifest: %w", err)
			}

			input, err := applyOverrides(snap.Input, sets)
			if err != nil {
				return fmt.Errorf("kb replay: %w", err)
			}

			root := pluginRoot
			if root == "" {
				root = snap.PluginRoot
			}

			fn, ok := demoHandlers()[snap.HandlerExport]
			if !ok {
				return fmt.Errorf("kb replay: no native implementation linked for handler export %q", snap.HandlerExport)
			}
			reg := runner.NewRegistry()
			href := execreq.HandlerRef{File: snap.HandlerFile, Export: snap.HandlerExport}
			reg.Register(snap.Plugin, href, fn)

			requestID := uuid.NewString()
			pc := permissions.New(snap.Plugin, requestID, m.Permissions, slogAuditSink{logger})

			wsManager := workspace.NewManager(os.TempDir())
			backends := backend.NewRegistry()
			backends.Bind(backend.ModeInProcess, backend.NewInProcess(runner.New(reg, logger, nil), wsManager, logger))

			p := pool.New(pool.Config{Name: "kb-replay", Workers: poolWorkers, QueueSize: poolWorkers * 4, AcquireTimeout: 30 * time.Second})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			backends.Bind(backend.ModePool, backend.NewPool(p, runner.New(reg, logger, nil), wsManager, logger))
			if err := backends.StartAll(ctx); err != nil {
				return fmt.Errorf("kb replay: start backends: %w", err)
			}

			artifacts := workspace.NewArtifactWriter(root)
			services := platform.NewServices(logger, os.TempDir(), platform.Providers{})
			analytics, _ := services.Analytics().(orchestrator.Analytics)
			orch := orchestrator.New(backends, store, artifacts, analytics, logger)

			rt := permissions.NewRuntime(pc, root, permissions.ProcessEnviron(os.Environ()))
			cleanup := &execreq.CleanupStack{}
			apiFacade := api.New(api.Config{
				PermissionContext: pc,
				CallerPluginID:    snap.Plugin,
				EventBus:          services.EventBus(),
				ArtifactWriter:    artifacts,
				Cleanup:           cleanup,
				StateStore:        state.New(),
			})

			req := hostadapter.BuildCLIExecutionRequest(uuid.NewString(), hostadapter.CLIRequest{
				PluginID:      snap.Plugin,
				PluginVersion: snap.PluginVersion,
				RequestID:     requestID,
				PluginRoot:    root,
				HandlerRef:    href,
				Permissions:   m.Permissions,
				Argv:          []string{"replay", executionID},
				Input:         input,
				TimeoutMs:     snap.TimeoutMs,
			})
			req.Workspace.Cwd = root
			req.Descriptor.TenantID = snap.TenantID
			req.Descriptor.ParentRequestID = snap.RequestID

			grants := m.Capabilities
			outcome := orch.Execute(ctx, req, &m, backend.Options{Mode: backend.Mode(mode), Local: true}, services, rt, apiFacade, grants)
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
	flags.StringVar(&snapshotDir, "snapshot-dir", os.TempDir(), "directory snapshots were saved under")
	flags.StringVar(&pluginRoot, "plugin-root", "", "plugin root directory (defaults to the snapshot's own)")
	flags.StringVar(&mode, "mode", string(backend.ModeInProcess), "backend mode: in-process|pool")
	flags.StringVar(&exitPolicy, "exit-policy", string(hostadapter.ExitPolicyMajor), "exit code policy on error: none|major|critical")
	flags.IntVar(&poolWorkers, "pool-workers", 4, "worker count when --mode=pool")
	flags.StringArrayVar(&sets, "set", nil, "override an input field as key=json-value (repeatable)")

	cmd.MarkFlagRequired("manifest")

	return cmd
}

// applyOverrides shallow-merges --set key=value pairs into a snapshot's
// input, which must itself decode to a JSON object.
func applyOverrides(input any, sets []string) (any, error) {
	if len(sets) == 0 {
		return input, nil
	}

	obj, ok := input.(map[string]any)
	if !ok {
		if input == nil {
			obj = map[string]any{}
		} else {
			return nil, fmt.Errorf("--set requires the snapshot input to be a JSON object, got %T", input)
		}
	}

	merged := make(map[string]any, len(obj)+len(sets))
	for k, v := range obj {
		merged[k] = v
	}
	for _, kv := range sets {
		key, raw, ok := splitOverride(kv)
		if !ok {
			return nil, fmt.Errorf("--set %q must be key=value", kv)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		merged[key] = value
	}
	return merged, nil
}

func splitOverride(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
