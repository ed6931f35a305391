package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 2, 14, 9, 30, 0, 123456789, time.UTC),
		JobID:     987654321,
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, raw := range []string{"%%%", "bm8tc2VwYXJhdG9y", "YWJjfDE=", "MXxhYmM="} {
		_, err := DecodeJobCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrJobNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("lookup: %w", domain.ErrWalletResolution), want: http.StatusNotFound},
		{err: domain.ErrInvalidArgument, want: http.StatusBadRequest},
		{err: domain.ErrInvalidAmount, want: http.StatusBadRequest},
		{err: domain.ErrInvalidAddress, want: http.StatusBadRequest},
		{err: &domain.TxError{Err: domain.ErrConfirmationTimeout}, want: http.StatusGatewayTimeout},
		{err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{err: &domain.TxError{Err: domain.ErrTransactionReverted}, want: http.StatusConflict},
		{err: domain.ErrStaleTransition, want: http.StatusConflict},
		{err: domain.NewConfigurationError("rabbitmq.host", "not configured"), want: http.StatusServiceUnavailable},
		{err: assert.AnError, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
