// Package jobs implements the background & scheduled job broker (C10):
// one-shot submission, cron/interval scheduling, quota accounting, and
// the consult point the degradation controller (C11) hooks into before
// every permission/quota check.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/backend"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/orchestrator"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/manifest"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// SubmitRequest describes one background execution, independent of
// whether it arrived via submit() or a fired cron schedule.
type SubmitRequest struct {
	PluginID    string
	HandlerName string
	HandlerRef  execreq.HandlerRef
	PluginRoot  string
	Input       any
	TimeoutMs   int64
	Priority    int

	Manifest *manifest.Manifest
	Opts     backend.Options
	Platform execreq.PlatformServices
	Runtime  execreq.Runtime
	API      execreq.API
	Granted  []string

	Descriptor execreq.Descriptor
}

type jobState struct {
	status Status
	result *execreq.RunResult
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Broker implements submit/schedule/cancel over an in-memory priority
// queue and a small fixed worker pool, consulting a Degrader (C11) and
// a QuotaCounter before every submission (spec §4.10).
type Broker struct {
	queue    *memoryQueue
	quota    *QuotaCounter
	exec     *orchestrator.Orchestrator
	degrader Degrader
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState

	scheduler *Scheduler
}

// New builds a job broker. quota and degrader may be nil: a nil quota
// skips rate/concurrency accounting (cmd/kbd passes nil when KB_REDIS_URL
// is unset), a nil degrader behaves
// like AlwaysHealthy.
func New(exec *orchestrator.Orchestrator, quota *QuotaCounter, degrader Degrader, logger *slog.Logger) *Broker {
	if degrader == nil {
		degrader = AlwaysHealthy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		queue:    NewMemoryQueue(),
		quota:    quota,
		exec:     exec,
		degrader: degrader,
		logger:   logger,
		jobs:     make(map[string]*jobState),
	}
	b.scheduler = newScheduler(b)
	return b
}

// Scheduler returns the broker's cron/interval dispatcher, so a host can
// attach durable persistence and start/stop it alongside the broker's
// own workers.
func (b *Broker) Scheduler() *Scheduler { return b.scheduler }

// Run starts n worker goroutines draining the queue until ctx is done.
func (b *Broker) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go b.work(ctx)
	}
}

func (b *Broker) work(ctx context.Context) {
	for {
		job, err := b.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		job.Run(ctx)
	}
}

// Handle is returned by Submit; callers use it to poll status, cancel,
// or block for the result.
type Handle struct {
	ID     string
	broker *Broker
}

// Status reports the job's current lifecycle state.
func (h *Handle) Status() Status {
	h.broker.mu.Lock()
	defer h.broker.mu.Unlock()
	st, ok := h.broker.jobs[h.ID]
	if !ok {
		return StatusFailed
	}
	return st.status
}

// Cancel stops a queued or running job; its concurrent counter is
// decremented once its dispatch returns. Canceling an already-terminal
// job returns ErrAlreadyTerminal.
func (h *Handle) Cancel() error {
	return h.broker.cancel(h.ID)
}

// Await blocks until the job reaches a terminal state or ctx is done.
func (h *Handle) Await(ctx context.Context) (*execreq.RunResult, error) {
	h.broker.mu.Lock()
	st, ok := h.broker.jobs[h.ID]
	h.broker.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	select {
	case <-st.done:
		return st.result, st.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit applies the degradation consult, permission check, and quota
// check, then enqueues req for background execution (spec §4.10).
func (b *Broker) Submit(ctx context.Context, pc *permissions.PermissionContext, req SubmitRequest) (*Handle, error) {
	block, err := b.admit(ctx, pc, "submit", req.HandlerName)
	if err != nil {
		return nil, err
	}
	if block.MaxDuration > 0 {
		maxMs := block.MaxDuration.Milliseconds()
		if req.TimeoutMs <= 0 || req.TimeoutMs > maxMs {
			req.TimeoutMs = maxMs
		}
	}

	jobID := uuid.NewString()
	execCtx, cancel := context.WithCancel(context.Background())
	state := &jobState{status: StatusQueued, done: make(chan struct{}), cancel: cancel}

	b.mu.Lock()
	b.jobs[jobID] = state
	b.mu.Unlock()

	job := &Job{
		ID:          jobID,
		PluginID:    req.PluginID,
		HandlerName: req.HandlerName,
		Priority:    req.Priority,
		CreatedAt:   time.Now(),
		Run: func(ctx context.Context) (*execreq.RunResult, error) {
			return b.dispatch(execCtx, jobID, state, req, block)
		},
	}

	if err := b.queue.Enqueue(ctx, job); err != nil {
		b.mu.Lock()
		delete(b.jobs, jobID)
		b.mu.Unlock()
		return nil, err
	}
	return &Handle{ID: jobID, broker: b}, nil
}

// Schedule registers a recurring submission on a cron expression or
// interval string (e.g. "5m"), applying the schedule permission and
// quota rules and enforcing minInterval (spec §4.10).
func (b *Broker) Schedule(pc *permissions.PermissionContext, cronOrInterval string, req SubmitRequest) (*ScheduleHandle, error) {
	block, err := b.checkSchedule(pc, req.HandlerName)
	if err != nil {
		return nil, err
	}
	return b.scheduler.add(cronOrInterval, pc, block, req)
}

func (b *Broker) checkSchedule(pc *permissions.PermissionContext, handlerName string) (*execreq.JobPermissionBlock, error) {
	return permissions.CheckJobSchedule(pc, handlerName)
}

// admit runs the degradation consult, the submit permission check, and
// the quota check, in that order (spec §4.10).
func (b *Broker) admit(ctx context.Context, pc *permissions.PermissionContext, op, handlerName string) (*execreq.JobPermissionBlock, error) {
	decision := b.degrader.Consult()
	if decision.Reject {
		return nil, errkind.New(errkind.JobSubmitRejectedDegraded, "job submission rejected: system is degraded")
	}
	if decision.SubmitDelay > 0 {
		timer := time.NewTimer(decision.SubmitDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	block, err := permissions.CheckJobSubmit(pc, handlerName)
	if err != nil {
		return nil, err
	}

	if b.quota != nil {
		ok, err := b.quota.Allow(ctx, pc.PluginID, handlerName, *block)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.QueueFull, "job quota exceeded")
		}
		ok, err = b.quota.Acquire(ctx, pc.PluginID, handlerName, block.MaxConcurrent)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.QueueFull, "job concurrency limit reached")
		}
	}
	return block, nil
}

func (b *Broker) dispatch(ctx context.Context, jobID string, state *jobState, req SubmitRequest, block *execreq.JobPermissionBlock) (*execreq.RunResult, error) {
	if b.quota != nil {
		defer func() {
			_ = b.quota.Release(context.Background(), req.PluginID, req.HandlerName)
		}()
	}

	b.mu.Lock()
	if state.status == StatusCanceled {
		b.mu.Unlock()
		return nil, state.err
	}
	state.status = StatusRunning
	b.mu.Unlock()

	execReq := &execreq.ExecutionRequest{
		ExecutionID: jobID,
		Descriptor:  req.Descriptor,
		PluginRoot:  req.PluginRoot,
		HandlerRef:  req.HandlerRef,
		Input:       req.Input,
		TimeoutMs:   req.TimeoutMs,
	}

	outcome := b.exec.Execute(ctx, execReq, req.Manifest, req.Opts, req.Platform, req.Runtime, req.API, req.Granted)

	b.mu.Lock()
	defer b.mu.Unlock()
	if state.status == StatusCanceled {
		return nil, state.err
	}
	if outcome.Err != nil {
		state.status = StatusFailed
		state.err = outcome.Err
	} else {
		state.status = StatusFinished
		state.result = outcome.Result
	}
	close(state.done)
	return state.result, state.err
}

// cancel marks a queued/running job canceled and cancels the context its
// execution runs under. A queued job is skipped when a worker dequeues
// it; a running job's handler sees its context canceled but is not
// preempted, so one that ignores the context runs to completion and its
// outcome is discarded. Either way the job's concurrency slot is released
// when its dispatch returns, and callers that haven't observed a terminal
// status see StatusCanceled.
func (b *Broker) cancel(jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	switch state.status {
	case StatusFinished, StatusFailed, StatusCanceled:
		return ErrAlreadyTerminal
	}
	state.status = StatusCanceled
	state.err = errors.New("jobs: canceled")
	state.cancel()
	close(state.done)
	return nil
}
