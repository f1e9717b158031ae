// Package hostadapter implements the thin host adapter contracts (C13):
// translating a host-specific request into an execreq.ExecutionRequest
// and a RunResult/error back into that host's response shape. Manifest
// parsing, router/flag-parser wiring, and presentation are the host's
// own concern; these types only carry the boundary data spec §4.12
// names (spec §1 "out of scope: the specific on-the-wire shapes of
// host transports ... beyond the thin request-to-ExecutionRequest
// adapter").
package hostadapter

import (
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// ExitPolicy controls how a CLI host derives a process exit code from an
// execution outcome (spec §4.12 "errors ⇒ {0|1|2} per a
// {none|major|critical} policy").
type ExitPolicy string

const (
	ExitPolicyNone     ExitPolicy = "none"
	ExitPolicyMajor    ExitPolicy = "major"
	ExitPolicyCritical ExitPolicy = "critical"
)

// CLIHostContext is the hostContext attached to a Descriptor built from
// a command-line invocation.
type CLIHostContext struct {
	Argv  []string          `json:"argv"`
	Flags map[string]string `json:"flags"`
}

// CLIRequest is what a cobra command handler assembles before calling
// into the execution backend.
type CLIRequest struct {
	PluginID      string
	PluginVersion string
	RequestID     string
	PluginRoot    string
	HandlerRef    execreq.HandlerRef
	Permissions   execreq.PermissionSpec
	Argv          []string
	Flags         map[string]string
	Input         any
	TimeoutMs     int64
}

// BuildCLIExecutionRequest maps a CLIRequest to the core's ExecutionRequest
// (spec §4.12 "maps flags to input, constructs a CLI host context").
func BuildCLIExecutionRequest(executionID string, r CLIRequest) *execreq.ExecutionRequest {
	return &execreq.ExecutionRequest{
		ExecutionID: executionID,
		Descriptor: execreq.Descriptor{
			Host:          execreq.HostCLI,
			PluginID:      r.PluginID,
			PluginVersion: r.PluginVersion,
			RequestID:     r.RequestID,
			Permissions:   r.Permissions,
			HostContext:   CLIHostContext{Argv: r.Argv, Flags: r.Flags},
		},
		PluginRoot: r.PluginRoot,
		HandlerRef: r.HandlerRef,
		Input:      r.Input,
		TimeoutMs:  r.TimeoutMs,
	}
}

// ExitCode derives a process exit code from an orchestration outcome
// per policy (spec §4.12: "exitCode if present, else 0; errors ⇒
// {0|1|2}"). A successful RunResult's HandlerReturn-shaped ExitCode, if
// present, takes priority over the policy.
func ExitCode(result *execreq.RunResult, err error, policy ExitPolicy) int {
	if err != nil {
		switch policy {
		case ExitPolicyNone:
			return 0
		case ExitPolicyCritical:
			env := errkind.Normalize(err)
			if env != nil && env.Code == errkind.Unknown {
				return 2
			}
			return 1
		default: // ExitPolicyMajor
			return 1
		}
	}
	if result == nil {
		return 0
	}
	if hr, ok := result.Data.(execreq.HandlerReturn); ok {
		return hr.ExitCode
	}
	return 0
}
