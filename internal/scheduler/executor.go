package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

const (
	remarkSuccess       = "Executed successfully - Irrigation completed as planned"
	remarkFailure       = "Execution failed - Hardware malfunction or system error"
	remarkExceptionPref = "Execution failed - System exception: "
)

// ExecutorConfig tunes the Execution Loop.
type ExecutorConfig struct {
	// Statuses the loop actuates. Defaults to PLANNED only.
	Statuses         []irrigation.Status
	ActuationTimeout time.Duration
	ConflictRetries  int
}

// ExecutionSummary reports one execution pass.
type ExecutionSummary struct {
	Due      int
	Executed int
	Failed   int
	Skipped  int
}

// Executor drives due programmes through the actuator into the journal.
type Executor struct {
	store    irrigation.Store
	actuator irrigation.Actuator
	locks    *irrigation.KeyedMutex
	statuses map[irrigation.Status]bool
	timeout  time.Duration
	retries  int

	metrics *Metrics
	stats   *Stats
	now     func() time.Time
}

// NewExecutor creates an Executor. metrics may be nil.
func NewExecutor(store irrigation.Store, actuator irrigation.Actuator, locks *irrigation.KeyedMutex,
	cfg ExecutorConfig, metrics *Metrics, stats *Stats) *Executor {
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = []irrigation.Status{irrigation.StatusPlanned}
	}
	statuses := make(map[irrigation.Status]bool, len(cfg.Statuses))
	for _, st := range cfg.Statuses {
		if !st.Terminal() {
			statuses[st] = true
		}
	}
	if cfg.ActuationTimeout <= 0 {
		cfg.ActuationTimeout = 2 * time.Minute
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	if locks == nil {
		locks = irrigation.NewKeyedMutex()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Executor{
		store:    store,
		actuator: actuator,
		locks:    locks,
		statuses: statuses,
		timeout:  cfg.ActuationTimeout,
		retries:  cfg.ConflictRetries,
		metrics:  metrics,
		stats:    stats,
		now:      time.Now,
	}
}

// RunOnce executes every programme due at the current time. Each programme
// is handled independently; errors are logged and never abort the pass.
func (e *Executor) RunOnce(ctx context.Context) ExecutionSummary {
	started := time.Now()
	defer e.metrics.observePass("execution", started)
	e.stats.ExecutionRuns.Inc()
	e.stats.LastExecution.Store(started.UnixMilli())

	var summary ExecutionSummary
	now := e.now()
	due, err := e.store.ListDue(ctx, now)
	if err != nil {
		log.Printf("ERROR: executor: list due programmes: %v", err)
		return summary
	}

	for _, p := range due {
		if !e.statuses[p.Status] {
			continue
		}
		if ctx.Err() != nil {
			log.Printf("WARN: executor: pass canceled: %v", ctx.Err())
			break
		}
		summary.Due++
		switch e.executeOne(ctx, p.ID) {
		case irrigation.StatusExecuted:
			summary.Executed++
		case irrigation.StatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	if summary.Due > 0 {
		log.Printf("executor: pass done: due=%d executed=%d failed=%d skipped=%d",
			summary.Due, summary.Executed, summary.Failed, summary.Skipped)
	}
	return summary
}

// executeOne returns the terminal status reached, or "" when the programme
// was skipped.
func (e *Executor) executeOne(ctx context.Context, id string) (result irrigation.Status) {
	unlock := e.locks.Lock(id)
	defer unlock()

	var (
		p          irrigation.Programme
		executedAt time.Time
	)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: executor: panic executing programme %s: %v\n%s", id, r, debug.Stack())
			result = ""
			if p.ID != "" {
				result = e.fail(ctx, p, executedAt, fmt.Errorf("panic: %v", r))
			}
		}
	}()

	p, err := e.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, irrigation.ErrNotFound) {
			log.Printf("ERROR: executor: load programme %s: %v", id, err)
		}
		return ""
	}

	executedAt = e.now()
	// Another loop may have moved it since listing.
	if !e.statuses[p.Status] || p.PlannedAt.After(executedAt) {
		return ""
	}

	log.Printf("executor: executing programme %s (parcel %d, planned %.1f L)", p.ID, p.ParcelID, p.VolumeLiters)

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	outcome, err := e.actuator.Execute(actx, p)
	cancel()
	if err != nil {
		log.Printf("ERROR: executor: actuation of programme %s: %v", p.ID, err)
		return e.fail(ctx, p, executedAt, err)
	}

	entry := irrigation.JournalEntry{ProgrammeID: p.ID, ExecutedAt: executedAt}
	status := irrigation.StatusExecuted
	if outcome.Success {
		entry.DeliveredLiters = max(outcome.DeliveredLiters, 0)
		entry.Remark = remarkSuccess
	} else {
		status = irrigation.StatusFailed
		entry.Remark = remarkFailure
		if outcome.Reason != "" {
			entry.Remark = "Execution failed - " + outcome.Reason
		}
		log.Printf("WARN: executor: programme %s reported failure: %s", p.ID, entry.Remark)
	}

	if _, err := e.store.Append(ctx, entry); err != nil {
		log.Printf("ERROR: executor: journal programme %s: %v", p.ID, err)
		return e.fail(ctx, p, executedAt, err)
	}
	if err := e.saveStatus(ctx, p, status); err != nil {
		log.Printf("ERROR: executor: update programme %s to %s: %v", p.ID, status, err)
		return e.fail(ctx, p, executedAt, err)
	}

	e.record(status)
	log.Printf("executor: programme %s %s with %.1f L", p.ID, status, entry.DeliveredLiters)
	return status
}

// fail is the best-effort path after an unexpected error: it journals a
// zero-volume failure and marks the programme FAILED.
func (e *Executor) fail(ctx context.Context, p irrigation.Programme, at time.Time, cause error) irrigation.Status {
	entry := irrigation.JournalEntry{
		ProgrammeID: p.ID,
		ExecutedAt:  at,
		Remark:      remarkExceptionPref + cause.Error(),
	}
	if _, err := e.store.Append(ctx, entry); err != nil {
		log.Printf("ERROR: executor: failed to create failure log for %s: %v", p.ID, err)
	}
	if err := e.saveStatus(ctx, p, irrigation.StatusFailed); err != nil {
		log.Printf("ERROR: executor: failed to mark %s FAILED: %v", p.ID, err)
	}
	e.record(irrigation.StatusFailed)
	return irrigation.StatusFailed
}

// saveStatus writes the terminal status, re-reading on version conflicts.
func (e *Executor) saveStatus(ctx context.Context, p irrigation.Programme, status irrigation.Status) error {
	return retryConflicts(ctx, e.retries, func() error {
		if p.Status.Terminal() {
			return nil
		}
		p.Status = status
		_, err := e.store.Save(ctx, p)
		if errors.Is(err, irrigation.ErrConflict) {
			e.metrics.conflict()
			fresh, gerr := e.store.Get(ctx, p.ID)
			if gerr != nil {
				return backoff.Permanent(gerr)
			}
			p = fresh
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
}

func (e *Executor) record(status irrigation.Status) {
	switch status {
	case irrigation.StatusExecuted:
		e.metrics.execution("success")
		e.stats.Executed.Inc()
	case irrigation.StatusFailed:
		e.metrics.execution("failure")
		e.stats.Failed.Inc()
	}
}
