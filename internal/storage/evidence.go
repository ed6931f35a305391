package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/google/uuid"
)

// AddEvidence appends an evidence record. The job must already be mirrored.
func (s *Storage) AddEvidence(ctx context.Context, ev *domain.Evidence) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	query := `
		INSERT INTO evidence (id, job_id, sender, message, file_url, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		ev.ID,
		ev.JobID,
		ev.Sender,
		ev.Message,
		ev.FileURL,
	).Scan(&ev.CreatedAt)

	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to add evidence: %w", err)
	}

	s.logger.Info("Evidence added",
		slog.Int64("job_id", ev.JobID),
		slog.String("evidence_id", ev.ID),
		slog.String("sender", ev.Sender),
	)

	return nil
}

// ListEvidence returns a job's evidence oldest first
func (s *Storage) ListEvidence(ctx context.Context, jobID int64) ([]domain.Evidence, error) {
	query := `
		SELECT id, job_id, sender, message, file_url, created_at
		FROM evidence
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
	`

	evidence := []domain.Evidence{}
	if err := s.db.SelectContext(ctx, &evidence, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}

	return evidence, nil
}
