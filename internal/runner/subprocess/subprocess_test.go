package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// catEcho is a tiny shell program standing in for a real language
// runtime shim: it reads the request line and writes back a success
// envelope, letting the test exercise the stdin/stdout protocol without
// spawning an actual plugin runtime.
const catEcho = `read line; printf '{"result":{"data":"ok","executionMeta":{}}}\n'`

func TestRunnerRunSuccess(t *testing.T) {
	r := New(nil)
	req := &execreq.ExecutionRequest{
		ExecutionID: "exec-1",
		Descriptor:  execreq.Descriptor{PluginID: "demo-plugin"},
	}

	result, err := r.Run(context.Background(), req, Spec{Command: "/bin/sh", Args: []string{"-c", catEcho}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Data)
}

func TestRunnerRunPropagatesErrorEnvelope(t *testing.T) {
	r := New(nil)
	req := &execreq.ExecutionRequest{
		ExecutionID: "exec-2",
		Descriptor:  execreq.Descriptor{PluginID: "demo-plugin"},
	}

	script := `read line; printf '{"error":{"code":"VALIDATION_ERROR","message":"bad input","http":400}}\n'`
	_, err := r.Run(context.Background(), req, Spec{Command: "/bin/sh", Args: []string{"-c", script}})
	require.Error(t, err)

	var pe *errkind.PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, errkind.ValidationError, pe.Code)
}

func TestRunnerRunTimesOutAndKillsProcess(t *testing.T) {
	r := New(nil)
	req := &execreq.ExecutionRequest{
		ExecutionID: "exec-3",
		Descriptor:  execreq.Descriptor{PluginID: "demo-plugin"},
		TimeoutMs:   int64(20 * time.Millisecond / time.Millisecond),
	}

	_, err := r.Run(context.Background(), req, Spec{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)

	var pe *errkind.PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, errkind.Timeout, pe.Code)
}

func TestRunnerRunNoResponseIsWorkerCrashed(t *testing.T) {
	r := New(nil)
	req := &execreq.ExecutionRequest{
		ExecutionID: "exec-4",
		Descriptor:  execreq.Descriptor{PluginID: "demo-plugin"},
	}

	_, err := r.Run(context.Background(), req, Spec{Command: "/bin/sh", Args: []string{"-c", "read line; exit 1"}})
	require.Error(t, err)

	var pe *errkind.PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, errkind.WorkerCrashed, pe.Code)
}
