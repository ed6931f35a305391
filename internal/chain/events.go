package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decode turns a raw log emitted by c into a domain event
func (c *Contract) Decode(lg types.Log) (domain.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return domain.ChainEvent{}, fmt.Errorf("%w: anonymous log", domain.ErrInvalidEvent)
	}

	ev, err := c.ABI.EventByID(lg.Topics[0])
	if err != nil {
		return domain.ChainEvent{}, fmt.Errorf("%w: unknown topic %s on %s", domain.ErrInvalidEvent, lg.Topics[0].Hex(), c.Name)
	}

	fields := make(map[string]any)
	if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
		return domain.ChainEvent{}, fmt.Errorf("failed to unpack %s data: %w", ev.Name, err)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return domain.ChainEvent{}, fmt.Errorf("failed to unpack %s topics: %w", ev.Name, err)
	}

	out := domain.ChainEvent{
		Name:        domain.EventName(ev.Name),
		Contract:    c.Name,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}

	jobID, err := bigField(fields, "jobId")
	if err != nil {
		return domain.ChainEvent{}, err
	}
	if !jobID.IsInt64() {
		return domain.ChainEvent{}, fmt.Errorf("%w: jobId %s overflows int64", domain.ErrInvalidEvent, jobID)
	}
	out.JobID = jobID.Int64()

	switch out.Name {
	case domain.EventJobCreated:
		out.Client = addressField(fields, "client")
		out.Contractor = addressField(fields, "contractor")
		if out.Amount, err = bigField(fields, "amount"); err != nil {
			return domain.ChainEvent{}, err
		}

	case domain.EventAIVerdictAccepted, domain.EventAIVerdictRejected:
		out.By = addressField(fields, "by")

	case domain.EventFundsReleased:
		out.To = addressField(fields, "to")
		if out.Amount, err = bigField(fields, "amount"); err != nil {
			return domain.ChainEvent{}, err
		}

	case domain.EventVotingSessionStarted:
		endTime, err := bigField(fields, "endTime")
		if err != nil {
			return domain.ChainEvent{}, err
		}
		out.EndTime = time.Unix(endTime.Int64(), 0).UTC()

	case domain.EventVotingFinalized:
		consensus, err := bigField(fields, "consensusPercent")
		if err != nil {
			return domain.ChainEvent{}, err
		}
		out.ConsensusPercent = domain.FormatPercent(float64(consensus.Int64()))
		if out.MAD, err = bigField(fields, "mad"); err != nil {
			return domain.ChainEvent{}, err
		}
	}

	return out, nil
}

func bigField(fields map[string]any, name string) (*big.Int, error) {
	v, ok := fields[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidEvent, name)
	}
	return v, nil
}

func addressField(fields map[string]any, name string) string {
	if v, ok := fields[name].(common.Address); ok {
		return v.Hex()
	}
	return ""
}
