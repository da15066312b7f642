// Package scheduler drives the reconciliation engine on a fixed interval.
// Every tick reconciles two business dates, today and tomorrow in the
// carrier's operating timezone, each serialized by a database run lock so
// overlapping ticks (or a second instance) never write concurrently.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"milkrun/internal/types"
)

// ReconcileEngine is the single entry point the runner drives.
type ReconcileEngine interface {
	Reconcile(ctx context.Context, date types.BusinessDate) (*types.RunSummary, error)
}

// RunLocker serializes runs per business date.
type RunLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// RunRecorder tracks run outcomes for operational visibility.
type RunRecorder interface {
	Start(ctx context.Context, date types.BusinessDate) (int64, error)
	Finish(ctx context.Context, id int64, status string, rowCount int, runErr error) error
}

// RunnerConfig holds the configuration for creating a Runner.
type RunnerConfig struct {
	Engine  ReconcileEngine
	Locks   RunLocker
	History RunRecorder

	// Timezone is the carrier's operating zone, used to decide which
	// calendar day "today" is.
	Timezone *time.Location

	Interval time.Duration
	LockTTL  time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner owns the tick loop. Each instance identifies itself to the run
// lock table with a unique worker ID, so a crashed instance's locks are
// reclaimed after the TTL rather than blocking forever.
type Runner struct {
	engine   ReconcileEngine
	locks    RunLocker
	history  RunRecorder
	loc      *time.Location
	interval time.Duration
	lockTTL  time.Duration
	workerID string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	lastRuns map[string]types.RunSummary
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		engine:   cfg.Engine,
		locks:    cfg.Locks,
		history:  cfg.History,
		loc:      cfg.Timezone,
		interval: cfg.Interval,
		lockTTL:  cfg.LockTTL,
		workerID: uuid.NewString(),
		logger:   logger,
		now:      now,
	}
}

// Run ticks until ctx is cancelled. The first reconciliation happens
// immediately rather than waiting out the first interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "runner starting",
		"worker_id", r.workerID,
		"interval", r.interval.String(),
	)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "runner stopping", "worker_id", r.workerID)
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles today and tomorrow in the operating timezone.
func (r *Runner) RunOnce(ctx context.Context) {
	today := types.BusinessDateOf(r.now(), r.loc)
	for _, date := range []types.BusinessDate{today, today.Next()} {
		if ctx.Err() != nil {
			return
		}
		r.reconcileDate(ctx, date)
	}
}

// reconcileDate runs the engine for one date under its run lock. A held
// lock skips the date quietly; the next tick will catch up.
func (r *Runner) reconcileDate(ctx context.Context, date types.BusinessDate) {
	lockID := fmt.Sprintf("reconcile:%s", date)

	acquired, err := r.locks.Acquire(ctx, lockID, r.workerID, r.lockTTL)
	if err != nil {
		r.logger.ErrorContext(ctx, "run lock acquisition failed",
			"business_date", date.String(),
			"error", err,
		)
		return
	}
	if !acquired {
		r.logger.InfoContext(ctx, "run already in progress, skipping date",
			"code", string(types.ErrCodeConflictRunInProgress),
			"business_date", date.String(),
		)
		return
	}
	defer func() {
		if err := r.locks.Release(ctx, lockID, r.workerID); err != nil {
			r.logger.WarnContext(ctx, "run lock release failed",
				"business_date", date.String(),
				"error", err,
			)
		}
	}()

	historyID, err := r.history.Start(ctx, date)
	if err != nil {
		// History is observability, not correctness. Run anyway.
		r.logger.WarnContext(ctx, "run history start failed",
			"business_date", date.String(),
			"error", err,
		)
	}

	summary, runErr := r.engine.Reconcile(ctx, date)

	if historyID != 0 {
		status := "success"
		rowCount := 0
		if runErr != nil {
			status = "failed"
		} else {
			rowCount = summary.Total()
		}
		if err := r.history.Finish(ctx, historyID, status, rowCount, runErr); err != nil {
			r.logger.WarnContext(ctx, "run history finish failed",
				"business_date", date.String(),
				"error", err,
			)
		}
	}

	if runErr != nil {
		r.logger.ErrorContext(ctx, "reconciliation run failed",
			"business_date", date.String(),
			"error", runErr,
		)
		return
	}

	r.mu.Lock()
	if r.lastRuns == nil {
		r.lastRuns = make(map[string]types.RunSummary)
	}
	r.lastRuns[date.String()] = *summary
	r.mu.Unlock()
}

// LastSummaries returns the most recent successful run summary per
// business date, ordered by date. Consumed by the ops status endpoint.
func (r *Runner) LastSummaries() []types.RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.lastRuns))
	for k := range r.lastRuns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.RunSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.lastRuns[k])
	}
	return out
}
