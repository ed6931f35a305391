package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/lib/pq"
)

// UpsertCreatedJob inserts the mirror row for a JobCreated event. An existing
// row keeps its parties and amount and is only re-affirmed as Active when its
// current status allows it. Returns true when a new row was created.
func (s *Storage) UpsertCreatedJob(ctx context.Context, job *domain.Job) (bool, error) {
	tr, _ := domain.TransitionFor(domain.EventJobCreated)

	query := `
		INSERT INTO jobs (
			job_id, client_address, contractor_address, amount_usdc,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, NOW(), NOW()
		)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE jobs.status = ANY($6::text[])
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		job.JobID,
		job.ClientAddress,
		job.ContractorAddress,
		job.AmountUSDC,
		tr.To,
		pq.Array(tr.FromStrings()),
	).Scan(&inserted)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("JobCreated ignored, job already progressed",
				slog.Int64("job_id", job.JobID),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to upsert job: %w", err)
	}

	if inserted {
		s.logger.Info("Job mirrored",
			slog.Int64("job_id", job.JobID),
			slog.String("amount_usdc", job.AmountUSDC.String()),
		)
	}

	return inserted, nil
}

// ApplyStatus moves a job to tr.To if its current status is one of tr.From.
// updated_at only changes when the status actually changes. Returns false for
// a stale or out-of-order transition, ErrReconciliationRace for an unknown job.
func (s *Storage) ApplyStatus(ctx context.Context, jobID int64, tr domain.Transition) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1::text,
		    ai_verdict_rejected = ai_verdict_rejected OR $4,
		    updated_at = CASE WHEN status = $1::text THEN updated_at ELSE NOW() END
		WHERE job_id = $2
		  AND status = ANY($3::text[])
	`

	result, err := s.db.ExecContext(ctx, query, tr.To, jobID, pq.Array(tr.FromStrings()), tr.RejectsVerdict)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		current, err := s.currentStatus(ctx, jobID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return false, domain.ErrReconciliationRace
		}
		if err != nil {
			return false, err
		}

		s.logger.Warn("Stale status transition skipped",
			slog.Int64("job_id", jobID),
			slog.String("current", string(current)),
			slog.String("target", string(tr.To)),
		)
		return false, nil
	}

	return true, nil
}

// RecordVerdict stores a confirmed AI verdict and moves the job to AIResolved.
// Only a DisputeRaised job whose verdict was not already rejected accepts one.
func (s *Storage) RecordVerdict(ctx context.Context, jobID int64, percent int, reason string, deadline time.Time) (bool, error) {
	tr := domain.VerdictTransition

	query := `
		UPDATE jobs
		SET status = $1::text,
		    ai_contractor_percent = $2,
		    ai_explanation = $3,
		    ai_deadline = $4,
		    updated_at = NOW()
		WHERE job_id = $5
		  AND status = ANY($6::text[])
		  AND NOT ai_verdict_rejected
	`

	result, err := s.db.ExecContext(ctx, query,
		tr.To,
		percent,
		reason,
		deadline,
		jobID,
		pq.Array(tr.FromStrings()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record verdict: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.currentStatus(ctx, jobID); err != nil {
			return false, err
		}
		return false, nil
	}

	s.logger.Info("AI verdict recorded",
		slog.Int64("job_id", jobID),
		slog.Int("contractor_percent", percent),
		slog.Time("ai_deadline", deadline),
	)

	return true, nil
}

func (s *Storage) currentStatus(ctx context.Context, jobID int64) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// GetJob retrieves a job by its on-chain id
func (s *Storage) GetJob(ctx context.Context, jobID int64) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status   domain.JobStatus
	Party    string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job on the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     int64
}

// ListJobs returns up to PageSize+1 jobs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Party != "" {
		query += fmt.Sprintf(" AND (LOWER(client_address) = LOWER($%d) OR LOWER(contractor_address) = LOWER($%d))", argIdx, argIdx)
		args = append(args, filter.Party)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ListExpiredVerdicts returns AIResolved jobs whose mirrored acceptance
// deadline is at or before now. The contract still decides escalation.
func (s *Storage) ListExpiredVerdicts(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND ai_deadline <= $2
		ORDER BY ai_deadline ASC
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusAIResolved, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired verdicts: %w", err)
	}

	return jobs, nil
}
