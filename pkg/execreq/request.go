// Package execreq holds the data model shared across every component of
// the execution substrate (spec §3): handler references, execution
// requests, the handler-facing execution context, and results. Nothing
// here interprets plugin business logic; it is pure plumbing.
package execreq

import "time"

// HandlerRef identifies a callable entry point: a file relative to a
// plugin root, and the export name inside it. Constructed from a
// manifest, passed by value, never mutated (spec §3).
type HandlerRef struct {
	File   string `yaml:"file" json:"file"`
	Export string `yaml:"export" json:"export"`
}

// HostKind identifies which host adapter produced a request (C13).
type HostKind string

const (
	HostCLI       HostKind = "cli"
	HostHTTP      HostKind = "http"
	HostWorkflow  HostKind = "workflow"
	HostWebhook   HostKind = "webhook"
	HostScheduled HostKind = "cron"
)

// Descriptor is the part of a request passed unchanged to the runner; it
// becomes the handler-facing context metadata (spec §3).
type Descriptor struct {
	Host            HostKind       `json:"host"`
	PluginID        string         `json:"pluginId"`
	PluginVersion   string         `json:"pluginVersion"`
	RequestID       string         `json:"requestId"`
	TenantID        string         `json:"tenantId,omitempty"`
	Permissions     PermissionSpec `json:"permissions"`
	HostContext     any            `json:"hostContext,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	ParentRequestID string         `json:"parentRequestId,omitempty"`
}

// WorkspaceMode selects how the workspace manager (C2) materializes a
// lease.
type WorkspaceMode string

const (
	WorkspaceLocal     WorkspaceMode = "local"
	WorkspaceEphemeral WorkspaceMode = "ephemeral"
)

// WorkspaceConfig is the workspace portion of an ExecutionRequest.
type WorkspaceConfig struct {
	Mode       WorkspaceMode `json:"mode"`
	Cwd        string        `json:"cwd,omitempty"`
	Repo       string        `json:"repo,omitempty"`
	Ref        string        `json:"ref,omitempty"`
	Commit     string        `json:"commit,omitempty"`
	Filter     []string      `json:"filter,omitempty"`
	SnapshotID string        `json:"snapshotId,omitempty"`
}

// ArtifactsConfig controls artifact collection after a successful
// execution (spec §4.8 step 7).
type ArtifactsConfig struct {
	Outdir   string   `json:"outdir,omitempty"`
	Upload   bool     `json:"upload,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// ExecutionRequest is created by a host adapter, consumed by the
// execution backend façade (C7), and never mutated after submission
// (spec §3).
type ExecutionRequest struct {
	ExecutionID string          `json:"executionId"`
	Descriptor  Descriptor      `json:"descriptor"`
	PluginRoot  string          `json:"pluginRoot"`
	HandlerRef  HandlerRef      `json:"handlerRef"`
	ExportName  string          `json:"exportName,omitempty"`
	Input       any             `json:"input"`
	Workspace   WorkspaceConfig `json:"workspace"`
	Artifacts   ArtifactsConfig `json:"artifacts"`
	TimeoutMs   int64           `json:"timeoutMs"`
}

// Timeout returns the request timeout as a time.Duration, treating <= 0
// as "unset".
func (r *ExecutionRequest) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}
