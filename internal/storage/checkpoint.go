package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveCheckpoint records the block up to which name has applied every event.
// The stored value never moves backwards.
func (s *Storage) SaveCheckpoint(ctx context.Context, name string, block uint64) error {
	query := `
		INSERT INTO sync_checkpoints (name, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET block_number = GREATEST(sync_checkpoints.block_number, EXCLUDED.block_number),
		    updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, name, int64(block)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the stored block for name and whether one exists
func (s *Storage) LoadCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	var block int64
	err := s.db.GetContext(ctx, &block, `SELECT block_number FROM sync_checkpoints WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return uint64(block), true, nil
}
