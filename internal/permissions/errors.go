package permissions

import (
	"fmt"
	"strings"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
)

// DeniedError is returned by every Check* function on denial. Its message
// never reveals whether the underlying resource exists, only that access
// to it was not granted (spec §4.2 "no information leakage").
type DeniedError struct {
	Class    string // "filesystem.read", "network", "shell", "environment", ...
	Resource string
	Allowed  []string
	Message  string
}

func (e *DeniedError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("permission denied: %s", e.Class))
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.Allowed) > 0 {
		parts = append(parts, fmt.Sprintf("allowed: [%s]", strings.Join(e.Allowed, ", ")))
	}
	return strings.Join(parts, "; ")
}

// AsPluginError converts a DeniedError into the closed error taxonomy used
// by the rest of the substrate.
func (e *DeniedError) AsPluginError() *errkind.PluginError {
	return errkind.New(errkind.PermissionDenied, e.Error())
}

// IsDenied reports whether err is a DeniedError.
func IsDenied(err error) bool {
	_, ok := err.(*DeniedError)
	return ok
}
