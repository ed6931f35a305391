package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLocker(t *testing.T) (*AdvisoryLocker, sqlmock.Sqlmock) {
	t.Helper()
	db, sm, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAdvisoryLocker(sqlx.NewDb(db, "postgres"), logger), sm
}

func TestLockKey(t *testing.T) {
	const addr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	assert.Equal(t, LockKey(addr), LockKey("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"))
	assert.NotEqual(t, LockKey(addr), LockKey("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
}

func TestAdvisoryLocker_LockUnlock(t *testing.T) {
	locker, sm := newMockLocker(t)
	const name = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	key := LockKey(name)

	sm.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 0))
	sm.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	unlock, err := locker.Lock(context.Background(), name)
	require.NoError(t, err)
	unlock()

	assert.NoError(t, sm.ExpectationsWereMet())
}

func TestAdvisoryLocker_LockError(t *testing.T) {
	locker, sm := newMockLocker(t)

	sm.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).WillReturnError(errors.New("canceling statement due to user request"))

	_, err := locker.Lock(context.Background(), "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock 0xabc")
	assert.NoError(t, sm.ExpectationsWereMet())
}
