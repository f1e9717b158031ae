// Package manifest holds the plugin manifest data model the execution
// substrate consumes: manifest parsing, validation, and registry
// loading live outside this repository (spec §1 "out of scope"); this
// package only defines the immutable shape the core reads from.
package manifest

import (
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Quotas bounds one handler's resource consumption.
type Quotas struct {
	TimeoutMs int64 `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	CPUMs     int64 `yaml:"cpuMs,omitempty" json:"cpuMs,omitempty"`
	MemoryMB  int64 `yaml:"memoryMb,omitempty" json:"memoryMb,omitempty"`
}

// Schema is an opaque JSON Schema document validated against a
// handler's input or output at orchestration time (C8).
type Schema map[string]any

// Artifacts declares which files a handler is expected to produce.
type Artifacts struct {
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// Warmup controls whether the worker pool pre-warms workers for a
// handler on startup (spec §4.6 "warmup").
type Warmup struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Handler describes one callable entry point and its per-route
// contract.
type Handler struct {
	Ref          execreq.HandlerRef `yaml:"ref" json:"ref"`
	InputSchema  Schema             `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema Schema             `yaml:"outputSchema,omitempty" json:"outputSchema,omitempty"`
	Artifacts    Artifacts          `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Warmup       Warmup             `yaml:"warmup,omitempty" json:"warmup,omitempty"`
	Quota        Quotas             `yaml:"quota,omitempty" json:"quota,omitempty"`
}

// Manifest identifies a plugin and declares the permissions,
// capabilities, and handlers it exposes. Treated as an immutable input
// by every component that reads it (spec §3).
//
// Loading a Manifest from a file (yaml.Unmarshal into this struct) is a
// thin host-adapter concern; the validation, defaulting, and discovery
// logic a real plugin registry would need lives outside this
// repository.
type Manifest struct {
	ID           string                 `yaml:"id" json:"id"`
	Version      string                 `yaml:"version" json:"version"`
	Capabilities []string               `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Permissions  execreq.PermissionSpec `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Handlers     map[string]Handler     `yaml:"handlers,omitempty" json:"handlers,omitempty"`
	CreatedAt    time.Time              `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// Handler resolves a handler by name, reporting whether it exists.
func (m *Manifest) Handler(name string) (Handler, bool) {
	h, ok := m.Handlers[name]
	return h, ok
}

// HasCapability reports whether cap is declared in the manifest.
func (m *Manifest) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
