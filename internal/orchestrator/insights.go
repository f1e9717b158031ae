package orchestrator

import (
	"fmt"
	"time"
)

// slowPhaseFraction is the share of total elapsed time a single phase
// must cross before it is called out as slow (spec §4.8 step 10 "slow
// phases").
const slowPhaseFraction = 0.5

// logVolumeWarnThreshold flags handlers that logged an unusually large
// number of lines for a single execution.
const logVolumeWarnThreshold = 500

// quotaProximityFraction flags executions that consumed most of their
// timeout budget even though they ultimately succeeded.
const quotaProximityFraction = 0.8

// RunMetrics collects the per-phase timings and volume counters an
// execution accumulates, the raw material insights are synthesized
// from. Populated by the orchestrator as it runs the C8 pipeline.
type RunMetrics struct {
	Phases    map[string]time.Duration
	LogLines  int
	TimeoutMs int64
	Elapsed   time.Duration
}

func newRunMetrics() *RunMetrics {
	return &RunMetrics{Phases: make(map[string]time.Duration)}
}

func (m *RunMetrics) mark(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.Phases[phase] += d
}

// Insight is a single human-readable note surfaced when debug mode is
// on (spec §4.8 step 10).
type Insight struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Synthesize turns a completed execution's metrics into insights: slow
// phases relative to total elapsed time, excessive log volume, and
// approaching the declared timeout quota. It never fails; an execution
// with no notable signal returns an empty slice.
func Synthesize(m RunMetrics) []Insight {
	var out []Insight
	if m.Elapsed <= 0 {
		return out
	}

	for phase, d := range m.Phases {
		if float64(d) >= slowPhaseFraction*float64(m.Elapsed) {
			out = append(out, Insight{
				Level:   "warn",
				Message: fmt.Sprintf("phase %q took %s, %.0f%% of total execution time", phase, d.Round(time.Millisecond), 100*float64(d)/float64(m.Elapsed)),
			})
		}
	}

	if m.LogLines >= logVolumeWarnThreshold {
		out = append(out, Insight{
			Level:   "info",
			Message: fmt.Sprintf("handler emitted %d log lines in a single execution", m.LogLines),
		})
	}

	if m.TimeoutMs > 0 {
		budget := time.Duration(m.TimeoutMs) * time.Millisecond
		if float64(m.Elapsed) >= quotaProximityFraction*float64(budget) {
			out = append(out, Insight{
				Level:   "warn",
				Message: fmt.Sprintf("execution used %s of its %s timeout budget", m.Elapsed.Round(time.Millisecond), budget),
			})
		}
	}

	return out
}
