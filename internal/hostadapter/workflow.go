package hostadapter

import "github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"

// WorkflowHostContext is the hostContext shape for a step dispatched by
// an external workflow engine (spec §4.12).
type WorkflowHostContext struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
	StepID     string `json:"stepId"`
	JobID      string `json:"jobId,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}

// WorkflowRequest is what a workflow-engine adapter assembles per step
// invocation.
type WorkflowRequest struct {
	PluginID      string
	PluginVersion string
	RequestID     string
	PluginRoot    string
	HandlerRef    execreq.HandlerRef
	Permissions   execreq.PermissionSpec
	Context       WorkflowHostContext
	Input         any
	TimeoutMs     int64
}

// BuildWorkflowExecutionRequest maps a WorkflowRequest to the core's
// ExecutionRequest.
func BuildWorkflowExecutionRequest(executionID string, r WorkflowRequest) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: executionID,
		Descriptor: execreq.Descriptor{
			Host:          execreq.HostWorkflow,
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
