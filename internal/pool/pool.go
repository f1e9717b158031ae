// Package pool implements the warm worker pool backend (C6): a bounded
// population of long-lived goroutines, each executing one handler
// invocation at a time, drawn from a bounded queue with a per-tenant
// concurrency cap. Workers are recycled after a configurable number of
// executions, after a configurable uptime, or after a panic, the same
// way a language-runtime worker process would be replaced rather than
// patched up in place.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
)

// ErrQueueFull is returned by Submit when the bounded queue has no room
// and no additional worker could be grown to make room.
var ErrQueueFull = errors.New("pool: queue full")

// ErrAcquireTimeout is returned by Submit when no worker picked up the
// request before Config.AcquireTimeout elapsed.
var ErrAcquireTimeout = errors.New("pool: acquire timeout")

// Task is one unit of work submitted to the pool.
type Task struct {
	TenantID string
	Run      func(ctx context.Context) (any, error)
}

// Config configures a Pool (spec §4.6).
type Config struct {
	Name string

	// Workers seeds Min when Min is unset and either Workers is set or Max
	// is unset; it defaults to 4. Kept alongside Min/Max so existing
	// fixed-size callers don't need to change: a Config naming only
	// Workers behaves exactly as a pool with Min = Max = Workers (no
	// growth). A Config with Min 0 and a positive Max keeps Min at 0.
	Workers int
	Min     int
	Max     int

	QueueSize    int
	MaxPerTenant int

	RecycleAfterN int
	MaxUptime     time.Duration

	AcquireTimeout      time.Duration
	HealthCheckInterval time.Duration

	Warmup WarmupConfig

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	explicitWorkers := c.Workers > 0
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Min <= 0 && (explicitWorkers || c.Max <= 0) {
		c.Min = c.Workers
	}
	if c.Max <= 0 {
		c.Max = c.Min
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	// QueueSize and AcquireTimeout are left as given, including zero: a
	// literal 0 means "no buffer" / "fail fast", both meaningful
	// configurations exercised by boundary tests. Callers wanting the
	// system default (e.g. 100, 5s) set it explicitly, the way
	// internal/config.Default does.
	if c.RecycleAfterN <= 0 {
		c.RecycleAfterN = 1000
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type submission struct {
	task   Task
	result chan<- taskResult
}

type taskResult struct {
	value any
	err   error
}

// Pool is a bounded, warm worker pool. Workers are started by Start and
// run until ctx is canceled.
type Pool struct {
	cfg Config

	queue    chan submission
	tenantMu sync.Mutex
	tenants  map[string]chan struct{}

	stats *Stats

	workersMu sync.Mutex
	workers   []*worker
	nextID    int

	wg sync.WaitGroup
}

// New constructs a pool. Call Start to spin up its workers.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:     cfg,
		queue:   make(chan submission, cfg.QueueSize),
		tenants: make(map[string]chan struct{}),
		stats:   NewStats(),
	}
}

// Start launches the pool's initial worker population — max(Config.Min,
// the warmup policy's count, bounded by Config.Max) — plus a health-check
// loop, all bound to ctx's lifetime (spec §4.6 "warmup").
func (p *Pool) Start(ctx context.Context) {
	n := p.cfg.Min
	if warm := p.cfg.Warmup.count(p.cfg.Max); warm > n {
		n = warm
	}
	if n > p.cfg.Max {
		n = p.cfg.Max
	}
	for i := 0; i < n; i++ {
		p.spawnWorker(ctx)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.healthLoop(ctx)
	}()
}

func (p *Pool) spawnWorker(ctx context.Context) *worker {
	p.workersMu.Lock()
	if len(p.workers) >= p.cfg.Max {
		p.workersMu.Unlock()
		return nil
	}
	w := newWorker(p.nextID, p)
	p.nextID++
	p.workers = append(p.workers, w)
	p.workersMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.run(ctx)
	}()
	return w
}

// Wait blocks until every worker and the health loop have exited, which
// happens once the pool's context is canceled.
func (p *Pool) Wait() { p.wg.Wait() }

// Submit enqueues task, respecting the per-tenant concurrency cap and
// the bounded queue. It blocks until a worker picks up the task and
// returns its result, Config.AcquireTimeout elapses, or ctx is done
// first (spec §4.6 dispatch algorithm).
func (p *Pool) Submit(ctx context.Context, task Task) (any, error) {
	release, err := p.acquireTenantSlot(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	resultCh := make(chan taskResult, 1)
	select {
	case p.queue <- submission{task: task, result: resultCh}:
	default:
		p.spawnWorker(ctx)
		select {
		case p.queue <- submission{task: task, result: resultCh}:
		default:
			p.stats.IncQueueFull()
			return nil, errkind.Wrap(errkind.QueueFull, ErrQueueFull, "pool: queue is at capacity")
		}
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-timer.C:
		p.stats.IncAcquireTimeout()
		return nil, errkind.Wrap(errkind.AcquireTimeout, ErrAcquireTimeout, "pool: acquire timeout waiting for a worker")
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "pool: submit canceled")
	}
}

func (p *Pool) acquireTenantSlot(ctx context.Context, tenantID string) (func(), error) {
	if p.cfg.MaxPerTenant <= 0 || tenantID == "" {
		return func() {}, nil
	}

	p.tenantMu.Lock()
	sem, ok := p.tenants[tenantID]
	if !ok {
		sem = make(chan struct{}, p.cfg.MaxPerTenant)
		p.tenants[tenantID] = sem
	}
	p.tenantMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		p.stats.IncAcquireTimeout()
		return nil, errkind.Wrap(errkind.AcquireTimeout, ErrAcquireTimeout, "pool: per-tenant concurrency cap reached")
	}
}

func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.workersMu.Lock()
			live := make([]*worker, 0, len(p.workers))
			for _, w := range p.workers {
				if w.currentState() == stateStopped {
					continue
				}
				live = append(live, w)
			}
			p.workers = live
			for _, w := range p.workers {
				if w.isCrashed() || w.stale() {
					p.cfg.Logger.Warn("pool worker unhealthy, recycling", "worker", w.id)
					w.recycle(ctx)
				}
			}
			short := len(p.workers) < p.cfg.Min
			p.workersMu.Unlock()
			if short {
				p.spawnWorker(ctx)
			}
			ObserveSnapshot(p.cfg.Name, p.Snapshot())
		}
	}
}

// Snapshot returns a point-in-time view of pool statistics.
func (p *Pool) Snapshot() Snapshot {
	snap := p.stats.Snapshot()
	snap.QueueDepth = len(p.queue)
	snap.QueueCapacity = cap(p.queue)

	p.workersMu.Lock()
	snap.Workers = len(p.workers)
	for _, w := range p.workers {
		switch w.currentState() {
		case stateIdle:
			snap.IdleWorkers++
		case stateBusy:
			snap.BusyWorkers++
		case stateDraining:
			snap.DrainingWorkers++
		case stateStopped:
			snap.StoppedWorkers++
		}
	}
	p.workersMu.Unlock()

	return snap
}
