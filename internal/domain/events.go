package domain

import (
	"fmt"
	"math/big"
	"time"
)

// EventName identifies a decoded contract event
type EventName string

// Escrow contract events
const (
	EventJobCreated        EventName = "JobCreated"
	EventDisputeRaised     EventName = "DisputeRaised"
	EventAIVerdictAccepted EventName = "AIVerdictAccepted"
	EventAIVerdictRejected EventName = "AIVerdictRejected"
	EventFundsReleased     EventName = "FundsReleased"
)

// DAO voting contract events
const (
	EventVotingSessionStarted EventName = "VotingSessionStarted"
	EventVotingFinalized      EventName = "VotingFinalized"
)

// ChainEvent is one decoded log from either contract. Only the fields
// relevant to Name are populated.
type ChainEvent struct {
	Name     EventName `json:"name"`
	Contract string    `json:"contract"`
	JobID    int64     `json:"job_id"`

	Client     string   `json:"client,omitempty"`
	Contractor string   `json:"contractor,omitempty"`
	Amount     *big.Int `json:"amount,omitempty"`

	// By is the party that accepted or rejected a verdict
	By string `json:"by,omitempty"`
	// To is the recipient of released funds
	To string `json:"to,omitempty"`

	EndTime          time.Time `json:"end_time,omitempty"`
	ConsensusPercent int       `json:"consensus_percent,omitempty"`
	MAD              *big.Int  `json:"mad,omitempty"`

	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
}

// Key uniquely identifies the log the event was decoded from
func (e ChainEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}
