package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
)

// ReapExpiredLeases requeues claimed jobs whose lease has run out. The
// worker that held the lease may still come back and submit; it will get
// a Conflict because the job is no longer claimed by it.
func (s *Service) ReapExpiredLeases(ctx context.Context, limit int, actor Actor) (int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	requeued := 0
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, COALESCE(locked_by_module_id,''), COALESCE(lease_expires_at,0)
			FROM jobs
			WHERE status = 'claimed' AND lease_expires_at <= ?
			ORDER BY lease_expires_at ASC
			LIMIT ?`, now, limit)
		if err != nil {
			return err
		}
		type expired struct {
			id       string
			lockedBy string
			expired  int64
		}
		var batch []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.lockedBy, &e.expired); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range batch {
			res, err := tx.ExecContext(ctx, `
				UPDATE jobs SET
					status = 'queued',
					locked_by_module_id = NULL,
					locked_at = NULL,
					lease_expires_at = NULL,
					next_run_at = ?,
					updated_at = ?
				WHERE id = ? AND status = 'claimed' AND lease_expires_at <= ?`,
				now, now, e.id, now)
			if err != nil {
				return fmt.Errorf("requeue job %s: %w", e.id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}
			if err := appendEvent(ctx, tx, now, "job", e.id, "lease_requeued", actor, map[string]any{
				"locked_by_module_id": e.lockedBy,
				"lease_expires_at":    e.expired,
			}); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return requeued, nil
}

// RequeueJob puts a terminal job back in the queue. Admin maintenance
// for dead-lettered work; the attempt counter keeps counting.
func (s *Service) RequeueJob(ctx context.Context, jobID string, actor Actor) error {
	return dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'queued', next_run_at = ?, updated_at = ?
			WHERE id = ? AND status IN ('failed','dead_letter')`,
			now, now, jobID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM jobs WHERE id = ?", jobID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
			}
			return fmt.Errorf("%w: job %s is not terminal", ErrConflict, jobID)
		}
		return appendEvent(ctx, tx, now, "job", jobID, "requeued", actor, nil)
	})
}

// EnqueueDueFreshness seeds check_freshness jobs for active and stale
// postings that have neither a pending freshness job nor a recently
// finished one inside the check interval. Oldest postings first, so a
// bounded batch always drains the backlog eventually.
func (s *Service) EnqueueDueFreshness(ctx context.Context, limit int, actor Actor) (int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	enqueued := 0
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()
		intervalMillis := int64(s.cfg.FreshnessCheckIntervalHours) * 3600 * 1000

		rows, err := tx.QueryContext(ctx, `
			SELECT p.id, p.status, p.updated_at
			FROM postings p
			WHERE p.status IN ('active','stale')
			  AND NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.kind = 'check_freshness' AND j.target_type = 'posting'
				  AND j.target_id = p.id AND j.status IN ('queued','claimed'))
			  AND NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.kind = 'check_freshness' AND j.target_type = 'posting'
				  AND j.target_id = p.id
				  AND j.status IN ('done','failed','dead_letter')
				  AND j.updated_at > ?)
			ORDER BY p.updated_at ASC
			LIMIT ?`, now-intervalMillis, limit)
		if err != nil {
			return err
		}
		type due struct {
			id        string
			status    string
			updatedAt int64
		}
		var batch []due
		for rows.Next() {
			var d due
			if err := rows.Scan(&d.id, &d.status, &d.updatedAt); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, d := range batch {
			jobID := uuid.NewString()
			inputs := map[string]any{
				"posting_id":          d.id,
				"posting_status":      d.status,
				"posting_updated_at":  d.updatedAt,
				"stale_after_hours":   s.cfg.FreshnessStaleAfterHours,
				"archive_after_hours": s.cfg.FreshnessArchiveAfterHours,
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO jobs (id, kind, target_type, target_id, inputs_json, status, attempt, next_run_at, created_at, updated_at)
				VALUES (?,'check_freshness','posting',?,?,'queued',0,?,?,?)`,
				jobID, d.id, store.MarshalJSON(inputs), now, now, now)
			if err != nil {
				return fmt.Errorf("enqueue freshness job for posting %s: %w", d.id, err)
			}
			if err := appendEvent(ctx, tx, now, "job", jobID, "enqueued", actor, map[string]any{
				"kind":        "check_freshness",
				"target_type": "posting",
				"target_id":   d.id,
			}); err != nil {
				return err
			}
			enqueued++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return enqueued, nil
}
