package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeNoElapsedReturnsEmpty(t *testing.T) {
	assert.Empty(t, Synthesize(RunMetrics{}))
}

func TestSynthesizeFlagsSlowPhase(t *testing.T) {
	m := RunMetrics{
		Elapsed: time.Second,
		Phases:  map[string]time.Duration{"backend_execute": 900 * time.Millisecond},
	}
	insights := Synthesize(m)
	assert.NotEmpty(t, insights)
	assert.Contains(t, insights[0].Message, "backend_execute")
}

func TestSynthesizeFlagsLogVolume(t *testing.T) {
	m := RunMetrics{
		Elapsed:  time.Second,
		LogLines: 1000,
		Phases:   map[string]time.Duration{},
	}
	insights := Synthesize(m)
	found := false
	for _, i := range insights {
		if i.Message == "handler emitted 1000 log lines in a single execution" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSynthesizeFlagsQuotaProximity(t *testing.T) {
	m := RunMetrics{
		Elapsed:   900 * time.Millisecond,
		TimeoutMs: 1000,
		Phases:    map[string]time.Duration{},
	}
	insights := Synthesize(m)
	found := false
	for _, i := range insights {
		if i.Level == "warn" {
			found = true
		}
	}
	assert.True(t, found)
}
