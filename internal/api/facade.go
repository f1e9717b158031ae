// Package api implements the handler-facing execreq.API surface: the
// high-level invoke/state/artifacts/shell/events/jobs/lifecycle façade a
// runner (C4/C5) builds once per execution context (spec §3). It is
// pure wiring over the already-permission-checked brokers (C9, C10),
// the sandboxed shell check (C1), and the per-plugin state store; it
// holds no business logic of its own.
package api

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/invoke"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/jobs"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/state"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/workspace"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// InvokeClient is the handler-facing view over the cross-plugin
// invocation broker (C9), bound to one caller plugin and chain budget.
type InvokeClient struct {
	broker   *invoke.Broker
	caller   string
	chain    invoke.Chain
}

func (c *InvokeClient) Invoke(ctx context.Context, req invoke.Request) (*invoke.Result, error) {
	return c.broker.Invoke(ctx, c.chain, c.caller, req)
}

// JobsClient is the handler-facing view over the job broker (C10),
// bound to one plugin's permission context.
type JobsClient struct {
	broker *jobs.Broker
	pc     *permissions.PermissionContext
}

func (c *JobsClient) Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.Handle, error) {
	return c.broker.Submit(ctx, c.pc, req)
}

func (c *JobsClient) Schedule(cronOrInterval string, req jobs.SubmitRequest) (*jobs.ScheduleHandle, error) {
	return c.broker.Schedule(c.pc, cronOrInterval, req)
}

// ShellClient is the handler-facing command runner (C1 "shell"): every
// command is checked against the execution's ShellPermission before a
// process is started, and commands matching requireConfirmation are
// denied unless a confirmation callback approves them (spec §3 "a
// confirmation timeout defaults to deny").
type ShellClient struct {
	pc      *permissions.PermissionContext
	confirm func(spec string) bool

	mu      sync.Mutex
	running int
}

// Run executes command with args, after checking the full "command
// [args...]" spec against the shell permission. If the command matches
// requireConfirmation, confirm is consulted; a nil confirm or a false
// result denies the run.
func (c *ShellClient) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	spec := command
	if len(args) > 0 {
		spec = command + " " + strings.Join(args, " ")
	}
	if err := permissions.CheckShell(c.pc, spec); err != nil {
		return nil, err
	}
	if permissions.RequiresConfirmation(c.pc, spec) {
		if c.confirm == nil || !c.confirm(spec) {
			return nil, &permissions.DeniedError{Class: "shell", Message: "confirmation required and not granted"}
		}
	}

	maxConcurrent := c.pc.Spec.Shell.MaxConcurrent
	if maxConcurrent > 0 {
		c.mu.Lock()
		if c.running >= maxConcurrent {
			c.mu.Unlock()
			return nil, &permissions.DeniedError{Class: "shell", Message: "max concurrent shell commands exceeded"}
		}
		c.running++
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.running--
			c.mu.Unlock()
		}()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	return cmd.CombinedOutput()
}

// EventsClient is the handler-facing event-bus accessor. It is a thin
// passthrough to whatever execreq.PlatformServices.EventBus() already
// returned for this execution, not a second bus implementation.
type EventsClient struct {
	bus any
}

func (c *EventsClient) Bus() any { return c.bus }

// ArtifactsClient lets a handler trigger an out-of-band artifact
// collection during execution, in addition to the orchestrator's
// automatic post-execution write (spec §4.8 step 7).
type ArtifactsClient struct {
	writer *workspace.ArtifactWriter
	outdir string
}

func (c *ArtifactsClient) Collect(ctx context.Context, patterns []string) error {
	if c.writer == nil {
		return fmt.Errorf("api: no artifact writer configured for this execution")
	}
	return c.writer.Write(ctx, c.outdir, patterns)
}

// LifecycleClient exposes the per-execution cleanup stack to a handler
// (spec §3 "cleanup stack").
type LifecycleClient struct {
	cleanup *execreq.CleanupStack
}

func (c *LifecycleClient) OnCleanup(fn execreq.Finalizer) {
	c.cleanup.Register(fn)
}

// StateClient is the handler-facing per-plugin namespaced key/value
// store accessor.
type StateClient struct {
	scoped *state.Scoped
}

func (c *StateClient) Get(ns, key string) (any, bool, error) { return c.scoped.Get(ns, key) }
func (c *StateClient) Set(ns, key string, value any) error   { return c.scoped.Set(ns, key, value) }
func (c *StateClient) Delete(ns, key string) error           { return c.scoped.Delete(ns, key) }
func (c *StateClient) Keys(ns string) ([]string, error)      { return c.scoped.Keys(ns) }

// Facade implements execreq.API: the single object an ExecutionContext
// carries as its API field, built fresh per execution by the runner
// (C4) or the subprocess bootstrap (C5).
type Facade struct {
	invoke     *InvokeClient
	jobs       *JobsClient
	shell      *ShellClient
	events     *EventsClient
	artifacts  *ArtifactsClient
	lifecycle  *LifecycleClient
	state      *StateClient
}

// Config collects everything New needs to wire one execution's Facade.
type Config struct {
	InvokeBroker   *invoke.Broker
	CallerPluginID string
	Chain          invoke.Chain

	JobsBroker *jobs.Broker

	PermissionContext *permissions.PermissionContext
	ConfirmShell      func(spec string) bool

	EventBus any

	ArtifactWriter *workspace.ArtifactWriter
	Outdir         string

	Cleanup *execreq.CleanupStack

	StateStore *state.Store
}

// New builds a Facade for one execution. A nil InvokeBroker, JobsBroker
// or StateStore in cfg leaves the matching Invoke, Jobs or State client
// nil.
func New(cfg Config) *Facade {
	f := &Facade{
		shell:     &ShellClient{pc: cfg.PermissionContext, confirm: cfg.ConfirmShell},
		events:    &EventsClient{bus: cfg.EventBus},
		artifacts: &ArtifactsClient{writer: cfg.ArtifactWriter, outdir: cfg.Outdir},
		lifecycle: &LifecycleClient{cleanup: cfg.Cleanup},
	}
	if cfg.InvokeBroker != nil {
		f.invoke = &InvokeClient{broker: cfg.InvokeBroker, caller: cfg.CallerPluginID, chain: cfg.Chain}
	}
	if cfg.JobsBroker != nil {
		f.jobs = &JobsClient{broker: cfg.JobsBroker, pc: cfg.PermissionContext}
	}
	if cfg.StateStore != nil && cfg.PermissionContext != nil {
		f.state = &StateClient{scoped: state.NewScoped(cfg.StateStore, cfg.CallerPluginID, cfg.PermissionContext.Spec.State)}
	}
	return f
}

func (f *Facade) Invoke() any    { return f.invoke }
func (f *Facade) State() any     { return f.state }
func (f *Facade) Artifacts() any { return f.artifacts }
func (f *Facade) Shell() any     { return f.shell }
func (f *Facade) Events() any    { return f.events }
func (f *Facade) Jobs() any      { return f.jobs }
func (f *Facade) Lifecycle() any { return f.lifecycle }

var _ execreq.API = (*Facade)(nil)
