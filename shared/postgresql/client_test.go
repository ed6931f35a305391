package postgresql

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "full",
			cfg:  Config{Host: "db", Port: 5432, User: "escrow", Password: "secret", Database: "escrow", SSLMode: "disable"},
			want: "postgres://escrow:secret@db:5432/escrow?sslmode=disable",
		},
		{
			name: "escaped password",
			cfg:  Config{Host: "db", Port: 5432, User: "escrow", Password: "p@ss/w rd", Database: "escrow"},
			want: "postgres://escrow:p%40ss%2Fw%20rd@db:5432/escrow",
		},
		{
			name: "no user",
			cfg:  Config{Host: "localhost", Port: 6543, Database: "ledger", SSLMode: "require"},
			want: "postgres://localhost:6543/ledger?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	client := NewClientFromDB(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, client.HealthCheck(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(assert.AnError)
	err = client.HealthCheck(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	mock.ExpectClose()
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
