package hostadapter

import (
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// CronHostContext is the hostContext shape for a handler invoked by the
// scheduled/cron host (spec §4.12).
type CronHostContext struct {
	CronID     string     `json:"cronId"`
	Schedule   string     `json:"schedule"`
	ScheduledAt time.Time `json:"scheduledAt"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
}

// CronRequest is what the scheduled host assembles when a registered
// cron entry fires.
type CronRequest struct {
	PluginID      string
	PluginVersion string
	RequestID     string
	PluginRoot    string
	HandlerRef    execreq.HandlerRef
	Permissions   execreq.PermissionSpec
	Context       CronHostContext
	Input         any
	TimeoutMs     int64
}

// BuildCronExecutionRequest maps a CronRequest to the core's
// ExecutionRequest.
func BuildCronExecutionRequest(executionID string, r CronRequest) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: executionID,
		Descriptor: execreq.Descriptor{
			Host:          execreq.HostScheduled,
			PluginID:      r.PluginID,
			PluginVersion: r.PluginVersion,
			RequestID:     r.RequestID,
			Permissions:   r.Permissions,
			HostContext:   r.Context,
		},
		PluginRoot: r.PluginRoot,
		HandlerRef: r.HandlerRef,
		Input:      r.Input,
		TimeoutMs:  r.TimeoutMs,
	}
}
