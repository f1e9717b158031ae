package hostadapter

import "github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"

// WebhookHostContext is the hostContext shape for a handler invoked by
// an inbound webhook (spec §4.12).
type WebhookHostContext struct {
	Event   string `json:"event"`
	Source  string `json:"source,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// WebhookRequest is what a webhook receiver assembles per delivered
// event.
type WebhookRequest struct {
	PluginID      string
	PluginVersion string
	RequestID     string
	PluginRoot    string
	HandlerRef    execreq.HandlerRef
	Permissions   execreq.PermissionSpec
	Event         string
	Source        string
	Payload       any
	TimeoutMs     int64
}

// BuildWebhookExecutionRequest maps a WebhookRequest to the core's
// ExecutionRequest.
func BuildWebhookExecutionRequest(executionID string, r WebhookRequest) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: executionID,
		Descriptor: execreq.Descriptor{
			Host:          execreq.HostWebhook,
			PluginID:      r.PluginID,
			PluginVersion: r.PluginVersion,
			RequestID:     r.RequestID,
			Permissions:   r.Permissions,
			HostContext:   WebhookHostContext{Event: r.Event, Source: r.Source, Payload: r.Payload},
		},
		PluginRoot: r.PluginRoot,
		HandlerRef: r.HandlerRef,
		Input:      r.Payload,
		TimeoutMs:  r.TimeoutMs,
	}
}
