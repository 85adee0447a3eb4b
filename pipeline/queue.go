package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/lifecycle"
)

// ListQueuedJobs returns runnable jobs, soonest first. Advisory only: a
// listed job may be gone by the time a worker tries to claim it.
func (s *Service) ListQueuedJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = 'queued' AND next_run_at <= ?
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT ?`, store.JobColumns), s.now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		j, err := store.ScanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimJob leases a queued job to a module. The claim is a single gated
// UPDATE; losing a race surfaces as Conflict, an unknown id as NotFound.
// For redirect-resolution jobs the current URL-override set is overlaid
// into inputs_json at claim time, so operators can hot-reload overrides
// between enqueue and claim.
func (s *Service) ClaimJob(ctx context.Context, jobID, moduleID string, leaseSeconds int) (*store.Job, error) {
	if moduleID == "" {
		return nil, fmt.Errorf("%w: module id is required", ErrValidation)
	}
	if leaseSeconds <= 0 {
		leaseSeconds = s.cfg.DefaultLeaseSeconds
	}
	if leaseSeconds > s.cfg.MaxLeaseSeconds {
		leaseSeconds = s.cfg.MaxLeaseSeconds
	}

	var claimed *store.Job
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET
				status = 'claimed',
				locked_by_module_id = ?,
				locked_at = ?,
				lease_expires_at = ?,
				attempt = attempt + 1,
				updated_at = ?
			WHERE id = ? AND status = 'queued' AND next_run_at <= ?`,
			moduleID, now, now+int64(leaseSeconds)*1000, now, jobID, now)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			row := tx.QueryRowContext(ctx,
				fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", store.JobColumns), jobID)
			if _, err := store.ScanJob(row); store.IsNoRows(err) {
				return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
			} else if err != nil {
				return err
			}
			return fmt.Errorf("%w: job %s is not claimable", ErrConflict, jobID)
		}

		row := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", store.JobColumns), jobID)
		job, err := store.ScanJob(row)
		if err != nil {
			return err
		}

		if job.Kind == "resolve_url_redirects" && job.TargetType == "discovery" {
			rules, err := loadURLRules(ctx, tx)
			if err != nil {
				return err
			}
			job.InputsJSON["url_rules"] = rules
			if _, err := tx.ExecContext(ctx,
				"UPDATE jobs SET inputs_json = ?, updated_at = ? WHERE id = ?",
				store.MarshalJSON(job.InputsJSON), now, jobID); err != nil {
				return err
			}
		}

		if err := appendEvent(ctx, tx, now, "job", jobID, "claimed", MachineActor(moduleID), map[string]any{
			"lease_seconds": leaseSeconds,
			"attempt":       job.Attempt,
		}); err != nil {
			return err
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SubmitJobResult completes a claimed job. A reported failure is retried
// with exponential backoff until the attempt budget is spent, then
// dead-lettered. Successful results are dispatched in the same
// transaction: extract results run the projection engine, freshness
// results drive the posting status, redirect results rewrite the
// discovery URL.
func (s *Service) SubmitJobResult(ctx context.Context, jobID, moduleID, status string, resultJSON, errorJSON map[string]any) (*store.Job, error) {
	switch status {
	case "done", "failed", "dead_letter":
	default:
		return nil, fmt.Errorf("%w: status must be done, failed or dead_letter", ErrValidation)
	}

	var updated *store.Job
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		row := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", store.JobColumns), jobID)
		job, err := store.ScanJob(row)
		if store.IsNoRows(err) {
			return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
		}
		if err != nil {
			return err
		}
		if job.Status != "claimed" {
			return fmt.Errorf("%w: job %s is not claimed", ErrConflict, jobID)
		}
		if job.LockedByModuleID != moduleID {
			return fmt.Errorf("%w: job %s is leased to another module", ErrForbidden, jobID)
		}

		resolved := status
		retryDelaySeconds := 0
		if status == "failed" {
			if job.Attempt >= s.cfg.JobMaxAttempts {
				resolved = "dead_letter"
			} else {
				resolved = "queued"
				retryDelaySeconds = s.retryDelaySeconds(job.Attempt)
			}
		}

		nextRunAt := job.NextRunAt
		if resolved == "queued" {
			nextRunAt = now + int64(retryDelaySeconds)*1000
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET
				status = ?,
				locked_by_module_id = NULL,
				locked_at = NULL,
				lease_expires_at = NULL,
				next_run_at = ?,
				result_json = ?,
				error_json = ?,
				updated_at = ?
			WHERE id = ?`,
			resolved, nextRunAt,
			store.NullIfEmpty(marshalOrEmpty(resultJSON)),
			store.NullIfEmpty(marshalOrEmpty(errorJSON)),
			now, jobID)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}

		actor := MachineActor(moduleID)

		switch {
		case resolved == "done" && job.Kind == "extract" && job.TargetType == "discovery":
			if err := s.projectExtract(ctx, tx, now, job, resultJSON, actor); err != nil {
				return err
			}
		case job.Kind == "check_freshness" && job.TargetType == "posting":
			terminalFailure := status == "failed" && resolved == "dead_letter"
			if resolved == "done" || terminalFailure {
				if err := s.applyFreshnessResult(ctx, tx, now, job, resultJSON, resolved == "done", actor); err != nil {
					return err
				}
			}
		case resolved == "done" && job.Kind == "resolve_url_redirects" && job.TargetType == "discovery":
			if err := s.rewriteDiscoveryURL(ctx, tx, now, job, resultJSON, actor); err != nil {
				return err
			}
		}

		err = appendEvent(ctx, tx, now, "job", jobID, "result_submitted", actor, map[string]any{
			"requested":           status,
			"resolved":            resolved,
			"attempt":             job.Attempt,
			"max_attempts":        s.cfg.JobMaxAttempts,
			"retry_delay_seconds": retryDelaySeconds,
		})
		if err != nil {
			return err
		}
		if resolved == "queued" {
			if err := appendEvent(ctx, tx, now, "job", jobID, "retry_scheduled", actor, map[string]any{
				"attempt":             job.Attempt,
				"retry_delay_seconds": retryDelaySeconds,
			}); err != nil {
				return err
			}
		}
		if resolved == "dead_letter" {
			if err := appendEvent(ctx, tx, now, "job", jobID, "dead_lettered", actor, map[string]any{
				"attempt":      job.Attempt,
				"max_attempts": s.cfg.JobMaxAttempts,
			}); err != nil {
				return err
			}
		}

		row = tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", store.JobColumns), jobID)
		updated, err = store.ScanJob(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// retryDelaySeconds is base·2^(attempt−1) capped at the configured max.
func (s *Service) retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	delay := s.cfg.RetryBaseSeconds
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.RetryMaxSeconds {
			return s.cfg.RetryMaxSeconds
		}
	}
	if delay > s.cfg.RetryMaxSeconds {
		delay = s.cfg.RetryMaxSeconds
	}
	return delay
}

// applyFreshnessResult drives the posting status from a freshness check.
// A successful check carries a recommended status; a dead-lettered check
// downgrades conservatively (active becomes stale, stale becomes
// archived) so an unreachable posting cannot stay active forever.
func (s *Service) applyFreshnessResult(ctx context.Context, tx *sql.Tx, now int64, job *store.Job, result map[string]any, succeeded bool, actor Actor) error {
	postingID := job.TargetID
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM postings WHERE id = ?", store.PostingColumns), postingID)
	posting, err := store.ScanPosting(row)
	if store.IsNoRows(err) {
		return nil // posting deleted out from under the job; nothing to update
	}
	if err != nil {
		return err
	}

	current := lifecycle.PostingStatus(posting.Status)
	var target lifecycle.PostingStatus
	reason := ""
	if succeeded {
		target = lifecycle.PostingStatus(coerceString(result["recommended_status"]))
		reason = coerceString(result["reason"])
		if !lifecycle.ValidPostingStatus(target) {
			return nil
		}
	} else {
		switch current {
		case lifecycle.PostingActive:
			target = lifecycle.PostingStale
		case lifecycle.PostingStale:
			target = lifecycle.PostingArchived
		default:
			return nil
		}
		reason = "freshness_check_exhausted"
	}

	if target == current {
		return nil
	}
	if err := lifecycle.CheckPostingTransition(current, target); err != nil {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	if err := applyPostingStatus(ctx, tx, now, posting, target); err != nil {
		return err
	}
	return appendEvent(ctx, tx, now, "posting", postingID, "state_changed", actor, map[string]any{
		"from":   string(current),
		"to":     string(target),
		"reason": reason,
		"job_id": job.ID,
	})
}

// rewriteDiscoveryURL applies a resolved redirect target back onto the
// discovery, unless the new normalized URL would collide with another
// discovery from the same module.
func (s *Service) rewriteDiscoveryURL(ctx context.Context, tx *sql.Tx, now int64, job *store.Job, result map[string]any, actor Actor) error {
	discoveryID := job.TargetID
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM discoveries WHERE id = ?", store.DiscoveryColumns), discoveryID)
	d, err := store.ScanDiscovery(row)
	if store.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return err
	}

	url := coerceString(result["url"])
	normalized := coerceString(result["normalized_url"])
	hash := coerceString(result["canonical_hash"])
	if url == "" || normalized == "" || hash == "" {
		return nil
	}
	if url == d.URL && normalized == d.NormalizedURL && hash == d.CanonicalHash {
		return nil
	}

	// Only the URL-keyed uniqueness tuple can collide; externally keyed
	// discoveries are free to change URLs.
	if d.ExternalID == "" {
		var collisions int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM discoveries
			WHERE origin_module_id = ? AND external_id IS NULL
			  AND normalized_url = ? AND id != ?`,
			d.OriginModuleID, normalized, d.ID).Scan(&collisions)
		if err != nil {
			return err
		}
		if collisions > 0 {
			return appendEvent(ctx, tx, now, "discovery", d.ID, "redirect_resolution_conflict", actor, map[string]any{
				"job_id":         job.ID,
				"normalized_url": normalized,
			})
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE discoveries SET url = ?, normalized_url = ?, canonical_hash = ?, updated_at = ?
		WHERE id = ?`,
		url, normalized, hash, now, d.ID)
	if err != nil {
		return err
	}
	return appendEvent(ctx, tx, now, "discovery", d.ID, "redirect_resolved", actor, map[string]any{
		"job_id":             job.ID,
		"url":                url,
		"normalized_url":     normalized,
		"canonical_hash":     hash,
		"previous_url":       d.URL,
		"previous_canonical": d.CanonicalHash,
	})
}

func marshalOrEmpty(m map[string]any) string {
	if m == nil {
		return ""
	}
	return store.MarshalJSON(m)
}
