package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/jobs/store"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/internal/permissions"
	"github.com/KirillBaranov/kb-labs-plugin-sub002/pkg/execreq"
)

// Scheduler wraps a robfig/cron/v3 dispatcher, re-entering Broker.Submit
// each time an entry fires and enforcing each entry's minInterval (spec
// §4.10 "the cron scheduler publishes triggered messages ... the broker
// ... re-enters submit").
type Scheduler struct {
	broker *Broker
	cron   *cron.Cron
	store  *store.SQLiteStore

	mu      sync.Mutex
	entries map[string]*scheduleEntry
}

type scheduleEntry struct {
	cronID      cron.EntryID
	minInterval time.Duration
	lastFired   time.Time
	canceled    bool
	pc          *permissions.PermissionContext
	req         SubmitRequest
}

func newScheduler(b *Broker) *Scheduler {
	return &Scheduler{
		broker:  b,
		cron:    cron.New(cron.WithSeconds()),
		entries: make(map[string]*scheduleEntry),
	}
}

// SetStore attaches a durable schedule store; once set, new
// registrations are persisted and canceled ones are removed (spec §3
// "Schedule entry ... Persisted in the state store of the pluggable
// platform"). Passing nil disables persistence (the default).
func (s *Scheduler) SetStore(st *store.SQLiteStore) { s.store = st }

// Start begins running due entries. Call once after the broker's
// workers are started.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron dispatcher; in-flight jobs already queued still
// run to completion.
func (s *Scheduler) Stop() { s.cron.Stop() }

// ScheduleHandle identifies one recurring registration.
type ScheduleHandle struct {
	ID        string
	scheduler *Scheduler
}

// Cancel removes the schedule; already-queued submissions are
// unaffected.
func (h *ScheduleHandle) Cancel() {
	h.scheduler.mu.Lock()
	entry, ok := h.scheduler.entries[h.ID]
	if !ok {
		h.scheduler.mu.Unlock()
		return
	}
	entry.canceled = true
	h.scheduler.cron.Remove(entry.cronID)
	delete(h.scheduler.entries, h.ID)
	st := h.scheduler.store
	h.scheduler.mu.Unlock()

	if st != nil {
		_ = st.Delete(context.Background(), h.ID)
	}
}

// add parses cronOrInterval (either a standard cron expression with
// seconds, or a Go duration-style interval string like "5m") and
// registers a recurring submission under pc. When a store is attached,
// the registration is also written durably so it survives a host
// restart (add always persists; Restore replays persisted entries
// without re-persisting them).
func (s *Scheduler) add(cronOrInterval string, pc *permissions.PermissionContext, block *execreq.JobPermissionBlock, req SubmitRequest) (*ScheduleHandle, error) {
	return s.addWithID(uuid.NewString(), cronOrInterval, pc, block, req, true)
}

func (s *Scheduler) addWithID(id, cronOrInterval string, pc *permissions.PermissionContext, block *execreq.JobPermissionBlock, req SubmitRequest, persist bool) (*ScheduleHandle, error) {
	spec, err := toCronSpec(cronOrInterval)
	if err != nil {
		return nil, err
	}

	entry := &scheduleEntry{pc: pc, req: req}
	if block != nil {
		entry.minInterval = block.MinInterval
	}

	cronID, err := s.cron.AddFunc(spec, func() {
		s.fire(id)
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: invalid schedule %q: %w", cronOrInterval, err)
	}
	entry.cronID = cronID

	s.mu.Lock()
	s.entries[id] = entry
	st := s.store
	s.mu.Unlock()

	if persist && st != nil {
		rec := store.Record{
			ScheduleID:     id,
			PluginID:       req.PluginID,
			HandlerFile:    req.HandlerRef.File,
			HandlerExport:  req.HandlerRef.Export,
			CronOrInterval: cronOrInterval,
			MinIntervalMs:  entry.minInterval.Milliseconds(),
			Priority:       req.Priority,
			CreatedAt:      time.Now().UTC(),
		}
		if block != nil {
			rec.MaxDurationMs = block.MaxDuration.Milliseconds()
		}
		if input, err := json.Marshal(req.Input); err == nil {
			rec.Input = input
		}
		if err := st.Save(context.Background(), rec); err != nil {
			s.broker.logger.Warn("failed to persist schedule entry", "scheduleId", id, "error", err)
		}
	}

	return &ScheduleHandle{ID: id, scheduler: s}, nil
}

// Restore replays every schedule previously persisted to store, in
// creation order. resolve turns a durable Record back into a live
// SubmitRequest/PermissionContext pair, typically by looking up the
// plugin's already-loaded manifest and platform services, since those
// are host-process singletons rather than something this store
// persists. A Record resolve rejects (e.g. the plugin is no longer
// installed) is skipped with a warning rather than aborting the whole
// restore.
func (s *Scheduler) Restore(ctx context.Context, st *store.SQLiteStore, resolve func(store.Record) (SubmitRequest, *permissions.PermissionContext, bool)) error {
	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	s.store = st
	for _, rec := range records {
		req, pc, ok := resolve(rec)
		if !ok {
			s.broker.logger.Warn("skipping unresolvable persisted schedule", "scheduleId", rec.ScheduleID, "plugin", rec.PluginID)
			continue
		}
		block := &execreq.JobPermissionBlock{
			MinInterval: time.Duration(rec.MinIntervalMs) * time.Millisecond,
			MaxDuration: time.Duration(rec.MaxDurationMs) * time.Millisecond,
		}
		if _, err := s.addWithID(rec.ScheduleID, rec.CronOrInterval, pc, block, req, false); err != nil {
			s.broker.logger.Warn("failed to restore persisted schedule", "scheduleId", rec.ScheduleID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok || entry.canceled {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if entry.minInterval > 0 && !entry.lastFired.IsZero() && now.Sub(entry.lastFired) < entry.minInterval {
		s.mu.Unlock()
		return
	}
	entry.lastFired = now
	pc, req := entry.pc, entry.req
	s.mu.Unlock()

	if _, err := s.broker.Submit(context.Background(), pc, req); err != nil {
		s.broker.logger.Error("scheduled job submission failed", "error", err, "plugin", req.PluginID, "handler", req.HandlerName)
	}
}

// toCronSpec accepts either a cron expression (with seconds, as required
// by cron.WithSeconds()) or a bare interval string such as
// "5m"/"30s"/"2h", converting the latter into an equivalent "@every"
// spec understood by robfig/cron.
func toCronSpec(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("jobs: empty schedule")
	}
	if strings.HasPrefix(s, "@") {
		return s, nil
	}
	if len(strings.Fields(s)) >= 5 {
		return s, nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return "", fmt.Errorf("jobs: %q is neither a cron expression nor a duration: %w", s, err)
	}
	return "@every " + s, nil
}
