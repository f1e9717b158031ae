package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/errkind"
)

// workerState is one worker's position in its lifecycle (spec §4.6
// per-state worker counts).
type workerState int32

const (
	stateIdle workerState = iota
	stateBusy
	stateDraining
	stateStopped
)

// worker pulls submissions off the pool's shared queue and runs them
// one at a time, tracking how many executions it has served and how
// long it has run so the pool can recycle it after Config.RecycleAfterN
// runs or Config.MaxUptime, the same way a language-runtime worker
// process would be replaced rather than patched up in place.
type worker struct {
	id        int
	pool      *Pool
	startedAt time.Time
	served    atomic.Int64
	crashed   atomic.Bool
	state     atomic.Int32
}

func newWorker(id int, p *Pool) *worker {
	return &worker{id: id, pool: p, startedAt: time.Now()}
}

func (w *worker) isCrashed() bool { return w.crashed.Load() }

func (w *worker) setState(s workerState) { w.state.Store(int32(s)) }

func (w *worker) currentState() workerState { return workerState(w.state.Load()) }

// stale reports whether the worker has exhausted its recycle budget:
// served requests or wall-clock uptime (spec §4.6 "recycle after N
// requests or T ms").
func (w *worker) stale() bool {
	if w.pool.cfg.RecycleAfterN > 0 && w.served.Load() >= int64(w.pool.cfg.RecycleAfterN) {
		return true
	}
	if w.pool.cfg.MaxUptime > 0 && time.Since(w.startedAt) >= w.pool.cfg.MaxUptime {
		return true
	}
	return false
}

// recycle clears the crashed flag, resets the served counter and uptime
// clock, and counts the replacement; the worker's run loop is already
// live in its own goroutine and will pick up the next submission
// normally once recycled.
func (w *worker) recycle(ctx context.Context) {
	w.setState(stateDraining)
	w.served.Store(0)
	w.startedAt = time.Now()
	w.crashed.Store(false)
	w.pool.stats.IncRecycle()
	w.setState(stateIdle)
}

func (w *worker) run(ctx context.Context) {
	w.setState(stateIdle)
	defer w.setState(stateStopped)
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-w.pool.queue:
			w.execute(ctx, sub)
			if w.stale() {
				w.recycle(ctx)
			}
		}
	}
}

func (w *worker) execute(ctx context.Context, sub submission) {
	w.setState(stateBusy)
	start := time.Now()
	value, err := w.runTask(ctx, sub.task)
	elapsed := time.Since(start)

	if isWorkerCrash(err) {
		w.pool.stats.RecordCrash(elapsed)
		observeTask(w.pool.cfg.Name, elapsed, false)
	} else {
		w.pool.stats.Record(elapsed, err == nil)
		observeTask(w.pool.cfg.Name, elapsed, err == nil)
	}

	w.served.Add(1)
	w.setState(stateIdle)

	sub.result <- taskResult{value: value, err: err}
}

// isWorkerCrash reports whether err is the WorkerCrashed kind runTask
// raises on a recovered panic, as opposed to an ordinary handler error.
func isWorkerCrash(err error) bool {
	var pe *errkind.PluginError
	if errors.As(err, &pe) {
		return pe.Code == errkind.WorkerCrashed
	}
	return false
}

// runTask recovers a panicking task instead of letting it take the
// whole worker goroutine down, marking the worker crashed so the health
// loop recycles it on the next tick (spec §4.6 "pool worker crash is
// contained, not fatal to the pool").
func (w *worker) runTask(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.crashed.Store(true)
			err = errkind.Newf(errkind.WorkerCrashed, "pool worker %d crashed: %v", w.id, rec)
		}
	}()
	if task.Run == nil {
		return nil, errkind.New(errkind.HandlerError, fmt.Sprintf("pool: worker %d received a task with no Run func", w.id))
	}
	return task.Run(ctx)
}
