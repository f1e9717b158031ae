package hostadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

func TestBuildExecutionRequestFromCLI(t *testing.T) {
	req := BuildCLIExecutionRequest("exec-1", CLIRequest{
		PluginID:   "demo",
		RequestID:  "req-1",
		PluginRoot: "/plugins/demo",
		HandlerRef: execreq.HandlerRef{File: "index.js", Export: "run"},
		Argv:       []string{"demo", "--flag=1"},
		Flags:      map[string]string{"flag": "1"},
		Input:      map[string]any{"flag": "1"},
	})

	assert.Equal(t, execreq.HostCLI, req.Descriptor.Host)
	ctx, ok := req.Descriptor.HostContext.(CLIHostContext)
	assert.True(t, ok)
	assert.Equal(t, []string{"demo", "--flag=1"}, ctx.Argv)
}

func TestExitCodeSuccessWithoutHandlerReturn(t *testing.T) {
	result := &execreq.RunResult{Data: map[string]any{"ok": true}}
	assert.Equal(t, 0, ExitCode(result, nil, ExitPolicyMajor))
}

func TestExitCodeSuccessWithHandlerReturn(t *testing.T) {
	result := &execreq.RunResult{Data: execreq.HandlerReturn{ExitCode: 7}}
	assert.Equal(t, 7, ExitCode(result, nil, ExitPolicyMajor))
}

func TestExitCodeErrorPolicyNone(t *testing.T) {
	err := errkind.New(errkind.HandlerError, "boom")
	assert.Equal(t, 0, ExitCode(nil, err, ExitPolicyNone))
}

func TestExitCodeErrorPolicyMajor(t *testing.T) {
	err := errkind.New(errkind.HandlerError, "boom")
	assert.Equal(t, 1, ExitCode(nil, err, ExitPolicyMajor))
}

func TestExitCodeErrorPolicyCriticalDistinguishesUnknown(t *testing.T) {
	known := errkind.New(errkind.HandlerError, "boom")
	assert.Equal(t, 1, ExitCode(nil, known, ExitPolicyCritical))

	unknown := errkind.New(errkind.Unknown, "panic")
	assert.Equal(t, 2, ExitCode(nil, unknown, ExitPolicyCritical))
}

var _ = time.Now
