package domain

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUSDC(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    string
		wantErr bool
	}{
		{name: "whole amount", amount: "100", want: "100000000"},
		{name: "fractional amount", amount: "10.5", want: "10500000"},
		{name: "six fractional digits", amount: "0.000001", want: "1"},
		{name: "zero", amount: "0", want: "0"},
		{name: "seven fractional digits", amount: "0.0000001", wantErr: true},
		{name: "negative amount", amount: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUSDC(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFromUSDC(t *testing.T) {
	assert.True(t, FromUSDC(big.NewInt(100_000000)).Equal(decimal.NewFromInt(100)))
	assert.True(t, FromUSDC(big.NewInt(10_500000)).Equal(decimal.RequireFromString("10.5")))
	assert.True(t, FromUSDC(nil).IsZero())
}

func TestUSDC_RoundTrip(t *testing.T) {
	amounts := []string{
		"0", "1", "0.1", "0.000001", "10.5", "123456.789012",
		"99999999999.999999", "42.42", "1000000000000000000000.000001",
	}

	for _, s := range amounts {
		t.Run(s, func(t *testing.T) {
			x := decimal.RequireFromString(s)
			onChain, err := ToUSDC(x)
			require.NoError(t, err)
			assert.True(t, FromUSDC(onChain).Equal(x), "round trip of %s gave %s", s, FromUSDC(onChain))
		})
	}
}

func TestParseUSDC(t *testing.T) {
	amount, err := ParseUSDC("25.125")
	require.NoError(t, err)
	assert.Equal(t, "25.125", amount.String())

	_, err = ParseUSDC("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseUSDC("1.1234567")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{in: -5, want: 0},
		{in: 150, want: 100},
		{in: 42.9, want: 42},
		{in: 0, want: 0},
		{in: 100, want: 100},
		{in: 99.999, want: 99},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPercent(tt.in), "FormatPercent(%v)", tt.in)
	}
}

func TestAIDeadline(t *testing.T) {
	confirmed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := AIDeadline(confirmed)
	assert.Equal(t, 72*time.Hour, deadline.Sub(confirmed))
	assert.Equal(t, time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), deadline)
}
