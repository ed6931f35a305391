package domain

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of fractional digits of the on-chain USDC amount
const USDCDecimals = 6

// AIAcceptanceWindow is how long parties have to accept an AI verdict
const AIAcceptanceWindow = 72 * time.Hour

// ToUSDC converts a human-readable amount to the on-chain fixed-point integer
func ToUSDC(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.String())
	}

	scaled := amount.Shift(USDCDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount.String(), USDCDecimals)
	}

	return scaled.BigInt(), nil
}

// FromUSDC converts an on-chain fixed-point integer to a human-readable amount
func FromUSDC(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -USDCDecimals)
}

// ParseUSDC parses a decimal string and checks that it is representable on-chain
func ParseUSDC(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if _, err := ToUSDC(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// FormatPercent floors p and clamps it to the 0-100 range accepted by the contracts
func FormatPercent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Min(math.Max(math.Floor(p), 0), 100))
}

// AIDeadline returns the end of the acceptance window for a verdict confirmed at t
func AIDeadline(confirmedAt time.Time) time.Time {
	return confirmedAt.Add(AIAcceptanceWindow)
}
