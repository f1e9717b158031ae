// Package subprocess implements the subprocess-isolated handler runner
// (C5): each invocation spawns a separate OS process, reaches the
// platform bridge (C3) over a Unix-domain socket via
// internal/platform/rpc, and is killed outright on timeout or abort
// instead of relying on in-process cancellation.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// envelope is the single JSON line a subprocess handler writes to its
// stdout once it has finished: either Result or Error is set, never
// both (spec §4.5 "subprocess result protocol").
type envelope struct {
	Result *execreq.RunResult `json:"result,omitempty"`
	Error  *errkind.Envelope  `json:"error,omitempty"`
}

// Spec configures how a subprocess-isolated handler is spawned.
type Spec struct {
	// Command is the executable invoked for this plugin runtime (e.g. a
	// language-specific shim binary). Args follow exec.Command conventions.
	Command string
	Args    []string
	Env     []string
	Dir     string

	// BridgeSocketPath and BridgeToken, if set, are exposed to the child
	// as KB_BRIDGE_SOCKET / KB_BRIDGE_TOKEN so it can dial back into the
	// platform service bridge (C3).
	BridgeSocketPath string
	BridgeToken      string
}

// Runner spawns one subprocess per invocation and speaks the
// request-on-stdin, envelope-on-stdout protocol with it.
type Runner struct {
	logger *slog.Logger
}

// New builds a subprocess runner.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run spawns the process described by spec, writes req as a single JSON
// line to its stdin, and waits for either a result/error envelope on
// stdout or the request's timeout, whichever comes first. On timeout or
// ctx cancellation the whole process group is killed (spec §4.5 "abort
// kills the OS process, not just the logical call").
func (r *Runner) Run(ctx context.Context, req *execreq.ExecutionRequest, spec Spec) (*execreq.RunResult, error) {
	if timeout := req.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(append([]string{}, spec.Env...),
		fmt.Sprintf("KB_BRIDGE_SOCKET=%s", spec.BridgeSocketPath),
		fmt.Sprintf("KB_BRIDGE_TOKEN=%s", spec.BridgeToken),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.HandlerError, err, "subprocess: open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.HandlerError, err, "subprocess: open stdout")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrap(errkind.HandlerError, err, "subprocess: start")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.ValidationError, err, "subprocess: encode request")
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		_ = cmd.Process.Kill()
		return nil, errkind.Wrap(errkind.HandlerError, err, "subprocess: write request")
	}
	_ = stdin.Close()

	line, readErr := readOneLine(stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, errkind.New(errkind.Timeout, "subprocess execution timed out")
	}
	if readErr != nil && readErr != io.EOF {
		return nil, errkind.Wrap(errkind.HandlerError, readErr, "subprocess: read response")
	}
	if len(line) == 0 {
		r.logger.Warn("subprocess exited without a response", "stderr", stderr.String(), "waitErr", waitErr)
		return nil, errkind.Newf(errkind.WorkerCrashed, "subprocess exited without a response: %v", waitErr)
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, errkind.Wrap(errkind.HandlerError, err, "subprocess: decode response envelope")
	}
	if env.Error != nil {
		return nil, errkind.New(env.Error.Code, env.Error.Message)
	}
	return env.Result, nil
}

func readOneLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReader(r)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\n"), nil
}

// DefaultBridgeSocketPath builds a per-execution socket path under dir,
// so concurrent subprocess invocations don't collide on the same
// filename.
func DefaultBridgeSocketPath(dir, executionID string) string {
	return filepath.Join(dir, executionID+".sock")
}
