// Package arbitration decides disputed jobs and submits the AI verdict on-chain.
package arbitration

import (
	"context"

	"github.com/cuongbtq/escrow-engine/internal/domain"
)

// Default verdict of the FixedPolicy
const (
	DefaultContractorPercent = 60
	DefaultReason            = "Merged Backend AI Result"
)

// Verdict is a proposed split of the escrowed funds
type Verdict struct {
	ContractorPercent int    `json:"contractor_percent"`
	Reason            string `json:"reason"`
}

// Policy turns a disputed job and its evidence into a verdict
type Policy interface {
	Decide(ctx context.Context, job *domain.Job, evidence []domain.Evidence) (Verdict, error)
}

// FixedPolicy returns the same verdict for every dispute
type FixedPolicy struct {
	ContractorPercent int
	Reason            string
}

// Decide returns the configured verdict. The zero FixedPolicy yields the
// default split; a configured percent is kept even without a reason.
func (p FixedPolicy) Decide(ctx context.Context, job *domain.Job, evidence []domain.Evidence) (Verdict, error) {
	if p == (FixedPolicy{}) {
		return Verdict{ContractorPercent: DefaultContractorPercent, Reason: DefaultReason}, nil
	}
	v := Verdict{ContractorPercent: p.ContractorPercent, Reason: p.Reason}
	if v.Reason == "" {
		v.Reason = DefaultReason
	}
	return v, nil
}
