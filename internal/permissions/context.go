// Package permissions implements the sandbox: every filesystem, network,
// environment, and shell access a handler attempts is checked against the
// plugin's normalized PermissionSpec before it happens. The default is
// deny (spec §3 "Permission specification", §9 "default-deny").
package permissions

import (
	"context"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

type contextKey int

const permissionsKey contextKey = iota

// PermissionContext is the effective, already-normalized permission set for
// a single execution. It is built once per ExecutionRequest and carried on
// the handler's context.Context for the lifetime of the call.
type PermissionContext struct {
	Spec      execreq.PermissionSpec
	PluginID  string
	RequestID string

	// Audit receives a record for every allow/deny decision, if set.
	Audit AuditSink
}

// WithContext attaches a PermissionContext to ctx.
func WithContext(ctx context.Context, pc *PermissionContext) context.Context {
	return context.WithValue(ctx, permissionsKey, pc)
}

// FromContext retrieves the PermissionContext carried on ctx, or nil if
// none was attached. Callers that find nil should treat every access as
// denied: the absence of a PermissionContext is a programming error, not
// an implicit allow.
func FromContext(ctx context.Context) *PermissionContext {
	pc, _ := ctx.Value(permissionsKey).(*PermissionContext)
	return pc
}

// New builds a PermissionContext from a normalized spec. Unlike the
// teacher's permissive fallback for a nil definition, an empty
// PermissionSpec here grants nothing: every Check* call denies until the
// manifest explicitly allows it.
func New(pluginID, requestID string, spec execreq.PermissionSpec, audit AuditSink) *PermissionContext {
	return &PermissionContext{
		Spec:      spec,
		PluginID:  pluginID,
		RequestID: requestID,
		Audit:     audit,
	}
}
