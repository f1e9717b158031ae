// Package degrade implements the degradation controller (C11): it
// observes queue/latency/error signals from the worker pool and feeds
// back an admission decision the job broker (C10) consults before every
// submission (spec §4.10, §4.11 JOB_SUBMIT_REJECTED_DEGRADED).
package degrade

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// State is a point on the controller's hysteresis state machine (spec
// §4.10 "state machine is {healthy, warn, degraded, critical}").
type State string

const (
	Healthy  State = "healthy"
	Warn     State = "warn"
	Degraded State = "degraded"
	Critical State = "critical"
)

var stateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kb_degrade_state",
		Help: "Current degradation controller state (1 for the active state, 0 otherwise), by state name.",
	},
	[]string{"state"},
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kb_degrade_transitions_total",
		Help: "Total degradation controller state transitions, by from/to state.",
	},
	[]string{"from", "to"},
)

// Signals is one observation of the pool's current health, sourced from
// internal/pool.Snapshot and the job broker's own counters.
type Signals struct {
	QueueDepth    int
	QueueCapacity int
	Workers       int
	MinWorkers    int
	Completed     int64
	Failed        int64
	P99           time.Duration
}

// queueUtilization returns depth/capacity in [0,1], or 0 if capacity is
// unset.
func (s Signals) queueUtilization() float64 {
	if s.QueueCapacity <= 0 {
		return 0
	}
	return float64(s.QueueDepth) / float64(s.QueueCapacity)
}

// errorRate returns failed/(completed+failed) in [0,1], or 0 with no
// samples yet.
func (s Signals) errorRate() float64 {
	total := s.Completed + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// Thresholds configures the boundaries between states. Each field is
// crossed independently; the worst-scoring dimension determines the
// candidate state for one observation. Concrete values are operational
// tuning, not protocol; spec §9 explicitly defers them to production
// data; these are conservative defaults.
type Thresholds struct {
	WarnQueueUtil      float64
	DegradedQueueUtil  float64
	CriticalQueueUtil  float64
	WarnErrorRate      float64
	DegradedErrorRate  float64
	CriticalErrorRate  float64
	WarnP99            time.Duration
	DegradedP99        time.Duration
	CriticalP99        time.Duration
	// HysteresisStreak is the number of consecutive observations that
	// must agree before the controller actually changes state, so a
	// single noisy sample can't flap it back and forth.
	HysteresisStreak int
}

// DefaultThresholds are the controller's conservative starting point.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnQueueUtil:     0.5,
		DegradedQueueUtil: 0.8,
		CriticalQueueUtil: 0.95,
		WarnErrorRate:     0.05,
		DegradedErrorRate: 0.15,
		CriticalErrorRate: 0.30,
		WarnP99:           500 * time.Millisecond,
		DegradedP99:       2 * time.Second,
		CriticalP99:       5 * time.Second,
		HysteresisStreak:  3,
	}
}

// Analytics receives state-transition events (spec §4.10 "transitions
// emit analytics events").
type Analytics interface {
	Emit(event string, data any)
}

// Decision is what Consult returns for a prospective job submission,
// matching internal/jobs.Degrader's expectation.
type Decision struct {
	Reject      bool
	SubmitDelay time.Duration
}

// Controller is the C11 degradation controller. It is safe for
// concurrent use: Observe is called from a health-polling loop, Consult
// from every job-broker submission.
type Controller struct {
	thresholds Thresholds
	analytics  Analytics
	logger     *slog.Logger

	// limiter throttles admission while in the degraded state; its
	// rate is tightened the longer the controller stays degraded.
	limiterMu sync.Mutex
	limiter   *rate.Limiter

	mu          sync.RWMutex
	state       State
	candidate   State
	streak      int
}

// New builds a Controller starting in the healthy state.
func New(thresholds Thresholds, analytics Analytics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		thresholds: thresholds,
		analytics:  analytics,
		logger:     logger,
		state:      Healthy,
		candidate:  Healthy,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	stateGauge.WithLabelValues(string(Healthy)).Set(1)
	return c
}

// classify maps one Signals observation to a candidate state, taking the
// worst (highest-severity) dimension.
func (c *Controller) classify(s Signals) State {
	t := c.thresholds
	worst := Healthy

	bump := func(candidate State) {
		if severity(candidate) > severity(worst) {
			worst = candidate
		}
	}

	util := s.queueUtilization()
	switch {
	case util >= t.CriticalQueueUtil:
		bump(Critical)
	case util >= t.DegradedQueueUtil:
		bump(Degraded)
	case util >= t.WarnQueueUtil:
		bump(Warn)
	}

	errRate := s.errorRate()
	switch {
	case errRate >= t.CriticalErrorRate:
		bump(Critical)
	case errRate >= t.DegradedErrorRate:
		bump(Degraded)
	case errRate >= t.WarnErrorRate:
		bump(Warn)
	}

	switch {
	case t.CriticalP99 > 0 && s.P99 >= t.CriticalP99:
		bump(Critical)
	case t.DegradedP99 > 0 && s.P99 >= t.DegradedP99:
		bump(Degraded)
	case t.WarnP99 > 0 && s.P99 >= t.WarnP99:
		bump(Warn)
	}

	if s.MinWorkers > 0 && s.Workers < s.MinWorkers {
		bump(Critical)
	}

	return worst
}

func severity(s State) int {
	switch s {
	case Critical:
		return 3
	case Degraded:
		return 2
	case Warn:
		return 1
	default:
		return 0
	}
}

// Observe feeds one signal sample into the controller's hysteresis state
// machine, transitioning state only after HysteresisStreak consecutive
// observations agree on a different state than the current one.
func (c *Controller) Observe(s Signals) State {
	candidate := c.classify(s)
	streak := c.thresholds.HysteresisStreak
	if streak <= 0 {
		streak = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if candidate == c.state {
		c.candidate = candidate
		c.streak = 0
		return c.state
	}

	if candidate == c.candidate {
		c.streak++
	} else {
		c.candidate = candidate
		c.streak = 1
	}

	if c.streak >= streak {
		c.transition(candidate)
	}
	return c.state
}

// transition must be called with mu held.
func (c *Controller) transition(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.streak = 0
	c.retune(to)

	stateGauge.WithLabelValues(string(from)).Set(0)
	stateGauge.WithLabelValues(string(to)).Set(1)
	transitionsTotal.WithLabelValues(string(from), string(to)).Inc()

	c.logger.Warn("degradation controller state transition", "from", from, "to", to)
	if c.analytics != nil {
		c.analytics.Emit("degrade.transition", map[string]any{"from": from, "to": to})
	}
}

// retune adjusts the admission limiter's rate for the new state: wide
// open when healthy/warn, throttled in degraded, fully closed (handled
// separately by Consult) in critical.
func (c *Controller) retune(state State) {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	switch state {
	case Healthy, Warn:
		c.limiter.SetLimit(rate.Inf)
	case Degraded:
		c.limiter.SetLimit(rate.Limit(5))
	case Critical:
		c.limiter.SetLimit(0)
	}
}

// Consult returns the current admission decision for a prospective job
// submission (spec §4.10): critical rejects outright; degraded imposes a
// submit delay derived from the admission limiter's reservation; healthy
// and warn never delay or reject.
func (c *Controller) Consult() Decision {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state == Critical {
		return Decision{Reject: true}
	}
	if state != Degraded {
		return Decision{}
	}

	c.limiterMu.Lock()
	reservation := c.limiter.Reserve()
	c.limiterMu.Unlock()
	if !reservation.OK() {
		return Decision{Reject: true}
	}
	return Decision{SubmitDelay: reservation.Delay()}
}

// State returns the controller's current state (spec §4.10
// "healthCheck() exposes the current state to the host").
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HealthCheck reports the controller's state in the shape a host
// adapter's status endpoint surfaces to operators.
type HealthCheck struct {
	State State `json:"state"`
}

// HealthCheckResult returns the current state wrapped for a host status
// endpoint.
func (c *Controller) HealthCheckResult() HealthCheck {
	return HealthCheck{State: c.State()}
}
