package permissions

// CheckInvoke checks whether the current plugin may invoke targetPluginID
// via the cross-plugin broker (C9).
func CheckInvoke(pc *PermissionContext, targetPluginID string) error {
	return emit(pc, "invoke", targetPluginID, checkInvoke(pc, targetPluginID))
}

func checkInvoke(pc *PermissionContext, targetPluginID string) error {
	if pc == nil {
		return &DeniedError{Class: "invoke", Message: "no permission context"}
	}
	for _, allowed := range pc.Spec.Invoke.Allow {
		if allowed == targetPluginID || allowed == "*" {
			return nil
		}
	}
	return &DeniedError{Class: "invoke", Allowed: pc.Spec.Invoke.Allow, Message: "target plugin not in invoke allow list"}
}

// CheckStateRead checks read access to a state namespace.
func CheckStateRead(pc *PermissionContext, namespace string) error {
	return emit(pc, "state.read", namespace, checkState(pc, namespace, false))
}

// CheckStateWrite checks write access to a state namespace.
func CheckStateWrite(pc *PermissionContext, namespace string) error {
	return emit(pc, "state.write", namespace, checkState(pc, namespace, true))
}

func checkState(pc *PermissionContext, namespace string, write bool) error {
	if pc == nil {
		return &DeniedError{Class: "state", Message: "no permission context"}
	}
	grant, ok := pc.Spec.State.Namespaces[namespace]
	if !ok {
		return &DeniedError{Class: "state", Message: "namespace not declared"}
	}
	if write && !grant.Write {
		return &DeniedError{Class: "state", Message: "namespace is not writable"}
	}
	if !write && !grant.Read {
		return &DeniedError{Class: "state", Message: "namespace is not readable"}
	}
	return nil
}
