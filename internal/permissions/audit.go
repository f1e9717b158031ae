package permissions

import "time"

// AuditRecord is emitted for every permission decision, allow or deny
// (spec §4.2 "every denial is audited before the error is raised").
type AuditRecord struct {
	Time      time.Time
	PluginID  string
	RequestID string
	Class     string
	Resource  string
	Allowed   bool
	Reason    string
}

// AuditSink receives audit records. The platform event bus (C3) adapts to
// this interface in the wired backend; tests use an in-memory sink.
type AuditSink interface {
	Record(AuditRecord)
}

// emit writes an audit record if pc carries a sink, then returns err
// unchanged so callers can do "return emit(pc, ..., err)".
func emit(pc *PermissionContext, class, resource string, err error) error {
	if pc == nil || pc.Audit == nil {
		return err
	}
	rec := AuditRecord{
		Time:      time.Now(),
		PluginID:  pc.PluginID,
		RequestID: pc.RequestID,
		Class:     class,
		Resource:  resource,
		Allowed:   err == nil,
	}
	if err != nil {
		rec.Reason = err.Error()
	}
	pc.Audit.Record(rec)
	return err
}
