package hostadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestWrapResultSetsCanonicalHeaders(t *testing.T) {
	result := &execreq.RunResult{
		Data: map[string]any{"echo": "hi"},
		ExecutionMeta: execreq.ExecutionMeta{
			PluginID:      "demo",
			PluginVersion: "1.0.0",
			RequestID:     "req-1",
			Duration:      250 * time.Millisecond,
		},
	}
	resp := WrapResult(result)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "demo", resp.Headers["X-Plugin-Id"])
	assert.Equal(t, "1.0.0", resp.Headers["X-Plugin-Version"])
	assert.Equal(t, "req-1", resp.Headers["X-Request-Id"])
	assert.Equal(t, "250", resp.Headers["X-Duration-Ms"])
	_, hasHandlerID := resp.Headers["X-Handler-Id"]
	assert.False(t, hasHandlerID)
}

func TestWrapErrorMapsStatus(t *testing.T) {
	err := errkind.New(errkind.ValidationError, "bad input")
	resp := WrapError(err)
	assert.Equal(t, 400, resp.Status)
}

func TestBuildExecutionRequestFromHTTP(t *testing.T) {
	req := BuildHTTPExecutionRequest("exec-1", HTTPRequest{
		PluginID:   "demo",
		PluginRoot: "/plugins/demo",
		HandlerRef: execreq.HandlerRef{File: "index.js", Export: "handle"},
		Method:     "POST",
		Path:       "/run",
		Body:       map[string]any{"x": 1},
	})
	assert.Equal(t, execreq.HostHTTP, req.Descriptor.Host)
	ctx, ok := req.Descriptor.HostContext.(RestHostContext)
	assert.True(t, ok)
	assert.Equal(t, "POST", ctx.Method)
}
