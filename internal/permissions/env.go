package permissions

import "strings"

// DangerousEnvVars are always denied, regardless of manifest
// configuration: they can redirect library loading or leak credentials
// into a handler's shell subprocesses.
var DangerousEnvVars = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
}

// CheckEnvVar checks whether name may be read from the inherited
// environment under pc's environment permission. Supports a trailing
// "PREFIX*" wildcard in the allow list (spec §3 "environment allow
// list").
func CheckEnvVar(pc *PermissionContext, name string) error {
	return emit(pc, "environment", name, checkEnvVar(pc, name))
}

func checkEnvVar(pc *PermissionContext, name string) error {
	for _, dangerous := range DangerousEnvVars {
		if strings.EqualFold(name, dangerous) {
			return &DeniedError{Class: "environment", Message: "environment variable is always blocked"}
		}
	}
	if pc == nil {
		return &DeniedError{Class: "environment", Message: "no permission context"}
	}
	for _, pattern := range pc.Spec.Environment.Allow {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
				return nil
			}
			continue
		}
		if strings.EqualFold(name, pattern) {
			return nil
		}
	}
	return &DeniedError{Class: "environment", Allowed: pc.Spec.Environment.Allow, Message: "environment variable not in allow list"}
}
