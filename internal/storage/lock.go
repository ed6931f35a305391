package storage

import (
	"context"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jmoiron/sqlx"
)

const unlockTimeout = 5 * time.Second

// AdvisoryLocker serializes work across processes sharing the database with
// session-level postgres advisory locks. Each held lock pins one pooled connection.
type AdvisoryLocker struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewAdvisoryLocker creates a locker over db
func NewAdvisoryLocker(db *sqlx.DB, logger *slog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, logger: logger}
}

// LockKey maps a name onto the 64-bit advisory lock space. Names are case-insensitive.
func LockKey(name string) int64 {
	sum := crypto.Keccak256([]byte("escrow-engine:" + strings.ToLower(name)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Lock blocks until the lock for name is held or ctx is done. The returned
// func releases it.
func (l *AdvisoryLocker) Lock(ctx context.Context, name string) (func(), error) {
	key := LockKey(name)

	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get lock connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		l.discard(conn)
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()

		var released bool
		err := conn.QueryRowxContext(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released)
		if err != nil || !released {
			l.logger.Warn("Failed to release advisory lock, dropping connection",
				slog.String("lock", name),
				slog.Bool("released", released),
				slog.Any("error", err),
			)
			l.discard(conn)
			return
		}
		_ = conn.Close()
	}, nil
}

// discard drops conn from the pool; ending the session frees its locks
func (l *AdvisoryLocker) discard(conn *sqlx.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
