package jobs

import (
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/degrade"
)

// Decision is what the degradation controller (C11) returns for a
// prospective job submission.
type Decision struct {
	Reject      bool
	SubmitDelay time.Duration
}

// Degrader is the consult point the job broker calls before every
// permission/quota check (spec §4.10 "Degradation integration"). A nil
// Degrader is treated as always-healthy.
type Degrader interface {
	Consult() Decision
}

// AlwaysHealthy is the zero-value Degrader: never rejects, never delays.
type AlwaysHealthy struct{}

func (AlwaysHealthy) Consult() Decision { return Decision{} }

// DegradeController adapts *degrade.Controller (the real C11 state
// machine, which has no knowledge of the job broker's Decision type) to
// the Degrader interface this package's broker calls.
type DegradeController struct {
	Controller *degrade.Controller
}

func (d DegradeController) Consult() Decision {
	dec := d.Controller.Consult()
	return Decision{Reject: dec.Reject, SubmitDelay: dec.SubmitDelay}
}
