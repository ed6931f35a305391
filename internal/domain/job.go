package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Job is the off-chain mirror of one escrow engagement
type Job struct {
	JobID               int64           `db:"job_id" json:"job_id"`
	ClientAddress       string          `db:"client_address" json:"client_address"`
	ContractorAddress   string          `db:"contractor_address" json:"contractor_address"`
	AmountUSDC          decimal.Decimal `db:"amount_usdc" json:"amount_usdc"`
	Status              JobStatus       `db:"status" json:"status"`
	AIContractorPercent *int            `db:"ai_contractor_percent" json:"ai_contractor_percent"`
	AIExplanation       *string         `db:"ai_explanation" json:"ai_explanation"`
	AIDeadline          *time.Time      `db:"ai_deadline" json:"ai_deadline"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Evidence is an append-only statement attached to a job
type Evidence struct {
	ID        string    `db:"id" json:"id"`
	JobID     int64     `db:"job_id" json:"job_id"`
	Sender    string    `db:"sender" json:"sender"`
	Message   string    `db:"message" json:"message"`
	FileURL   *string   `db:"file_url" json:"file_url,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserWallet links an application user to a custodial wallet
type UserWallet struct {
	UserID            string  `db:"user_id"`
	Address           string  `db:"address"`
	CustodialWalletID *string `db:"custodial_wallet_id"`
}

// ValidateJobID rejects ids that cannot name an on-chain job
func ValidateJobID(jobID int64) error {
	if jobID < 0 {
		return fmt.Errorf("%w: job id %d is negative", ErrInvalidArgument, jobID)
	}
	return nil
}

// ParseAddress checks that s is a hex account address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
