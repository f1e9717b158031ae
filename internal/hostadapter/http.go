package hostadapter

import (
	"strconv"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// RestHostContext is the hostContext attached to a Descriptor built from
// an HTTP request (spec §4.12).
type RestHostContext struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Header map[string]string `json:"header,omitempty"`
}

// HTTPRequest is what the HTTP host's router handler assembles per
// inbound request before calling into the execution backend.
type HTTPRequest struct {
	PluginID      string
	PluginVersion string
	RequestID     string
	TenantID      string
	PluginRoot    string
	HandlerRef    execreq.HandlerRef
	Permissions   execreq.PermissionSpec
	Method        string
	Path          string
	Query         map[string]string
	Header        map[string]string
	Body          any
	TimeoutMs     int64
}

// BuildHTTPExecutionRequest maps an HTTPRequest to the core's
// ExecutionRequest (spec §4.12 "maps method + path + body/query to
// RestHostContext").
func BuildHTTPExecutionRequest(executionID string, r HTTPRequest) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: executionID,
		Descriptor: execreq.Descriptor{
			Host:          execreq.HostHTTP,
			PluginID:      r.PluginID,
			PluginVersion: r.PluginVersion,
			RequestID:     r.RequestID,
			TenantID:      r.TenantID,
			Permissions:   r.Permissions,
			HostContext:   RestHostContext{Method: r.Method, Path: r.Path, Query: r.Query, Header: r.Header},
		},
		PluginRoot: r.PluginRoot,
		HandlerRef: r.HandlerRef,
		Input:      r.Body,
		TimeoutMs:  r.TimeoutMs,
	}
}

// HTTPResponse is the shape a successful RunResult is wrapped into
// (spec §4.12 "{body = data, headers = {X-Plugin-Id, ...}}").
type HTTPResponse struct {
	Status  int
	Body    any
	Headers map[string]string
}

// WrapResult builds the canonical HTTP response header set for a
// successful execution.
func WrapResult(result *execreq.RunResult) HTTPResponse {
	headers := map[string]string{
		"X-Plugin-Id":      result.ExecutionMeta.PluginID,
		"X-Plugin-Version":  result.ExecutionMeta.PluginVersion,
		"X-Request-Id":      result.ExecutionMeta.RequestID,
		"X-Duration-Ms":     strconv.FormatInt(result.ExecutionMeta.Duration.Milliseconds(), 10),
	}
	if result.ExecutionMeta.HandlerID != "" {
		headers["X-Handler-Id"] = result.ExecutionMeta.HandlerID
	}
	if result.ExecutionMeta.TenantID != "" {
		headers["X-Tenant-Id"] = result.ExecutionMeta.TenantID
	}
	return HTTPResponse{Status: 200, Body: result.Data, Headers: headers}
}

// WrapError maps an error into an HTTP response using C12's canonical
// status codes (spec §4.12 "error kinds map to status codes per C12").
func WrapError(err error) HTTPResponse {
	env := errkind.Normalize(err)
	return HTTPResponse{Status: env.HTTP, Body: env}
}
