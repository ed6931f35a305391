package storage

import (
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Storage is the job ledger: the off-chain mirror of escrow state.
// Writes are keyed by job id and guarded by the status they expect,
// so replays and redeliveries settle to the same row.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, client_address, contractor_address, amount_usdc, status,
	ai_contractor_percent, ai_explanation, ai_deadline, created_at, updated_at
`

// foreignKeyViolation is the postgres SQLSTATE for a missing referenced row
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
