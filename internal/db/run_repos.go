package db

import (
	"context"
	"time"

	"milkrun/internal/types"
)

// RunLockRepository serializes reconciliation runs per business date via
// the run_locks table. The delete-then-insert write is not safe under
// concurrent writers, so whoever holds the date's lock owns the run.
type RunLockRepository struct {
	db DBTX
}

func NewRunLockRepository(db DBTX) *RunLockRepository {
	return &RunLockRepository{db: db}
}

// Acquire attempts to take the lock for lockID (one per business date).
// Returns true if acquired, false if another worker holds an unexpired
// lock. An expired lock is reclaimed atomically by the ON CONFLICT UPDATE.
//
// expires_at is computed as a concrete timestamp in Go rather than with
// interval arithmetic in SQL, since Go duration strings are not valid
// PostgreSQL intervals.
func (r *RunLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO run_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE run_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire run lock", err)
	}

	// 1 row affected: fresh insert, or expired lock reclaimed. 0 rows:
	// the lock is live and held elsewhere.
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock early so the next tick need not wait out the TTL.
// Only the holding worker's row is deleted.
func (r *RunLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM run_locks WHERE id = $1 AND worker_id = $2`,
		lockID, workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release run lock", err)
	}
	return nil
}

// RunHistoryRepository records each engine run in the run_history table
// for operational visibility.
type RunHistoryRepository struct {
	db DBTX
}

func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// Start inserts a running history row and returns its ID for Finish.
func (r *RunHistoryRepository) Start(ctx context.Context, date types.BusinessDate) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO run_history (business_date, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		date.String(),
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start run history entry", err)
	}
	return id, nil
}

// Finish closes a history row with the outcome. status is 'success' or
// 'failed'; runErr's message, when present, lands in the error column.
func (r *RunHistoryRepository) Finish(ctx context.Context, id int64, status string, rowCount int, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	_, err := r.db.Exec(ctx,
		`UPDATE run_history
		 SET finished_at = NOW(), status = $2, row_count = $3, error = $4
		 WHERE id = $1`,
		id, status, rowCount, errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish run history entry", err)
	}
	return nil
}
