package permissions

import "github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"

// CheckJobSubmit checks whether the current plugin may submit handler as
// a background job, returning the matched quota block on success.
func CheckJobSubmit(pc *PermissionContext, handler string) (*execreq.JobPermissionBlock, error) {
	block, err := checkJob(pc, "jobs.submit", pc.jobsSubmit(), handler)
	return block, emit(pc, "jobs.submit", handler, err)
}

// CheckJobSchedule checks whether the current plugin may schedule handler
// on a cron, returning the matched quota block on success.
func CheckJobSchedule(pc *PermissionContext, handler string) (*execreq.JobPermissionBlock, error) {
	block, err := checkJob(pc, "jobs.schedule", pc.jobsSchedule(), handler)
	return block, emit(pc, "jobs.schedule", handler, err)
}

func (pc *PermissionContext) jobsSubmit() *execreq.JobPermissionBlock {
	if pc == nil {
		return nil
	}
	return pc.Spec.Jobs.Submit
}

func (pc *PermissionContext) jobsSchedule() *execreq.JobPermissionBlock {
	if pc == nil {
		return nil
	}
	return pc.Spec.Jobs.Schedule
}

func checkJob(pc *PermissionContext, class string, block *execreq.JobPermissionBlock, handler string) (*execreq.JobPermissionBlock, error) {
	if pc == nil || block == nil {
		return nil, &DeniedError{Class: class, Message: "no permission granted for this operation"}
	}
	if len(block.Handlers) == 0 {
		return nil, &DeniedError{Class: class, Message: "no handlers declared"}
	}
	for _, allowed := range block.Handlers {
		if allowed == handler || allowed == "*" {
			return block, nil
		}
	}
	return nil, &DeniedError{Class: class, Allowed: block.Handlers, Message: "handler not in allow list"}
}
