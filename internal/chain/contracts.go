package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	//go:embed abis/escrow.json
	escrowABIJSON []byte

	//go:embed abis/dao_voting.json
	daoABIJSON []byte
)

// Contract names used in logs, events and dead letters
const (
	ContractEscrow = "escrow"
	ContractDAO    = "dao"
)

// Contract is a deployed contract with its parsed ABI
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Call is a fully encoded contract invocation. Data is packed when the Call is
// built, so argument-shape errors surface before any signing happens.
type Call struct {
	Contract *Contract
	Method   string
	Args     []any
	Data     []byte
}

// String returns a short description for logs
func (c Call) String() string {
	return fmt.Sprintf("%s.%s", c.Contract.Name, c.Method)
}

func newContract(name string, address common.Address, abiJSON []byte) (*Contract, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s ABI: %w", name, err)
	}
	return &Contract{Name: name, Address: address, ABI: parsed}, nil
}

func (c *Contract) call(method string, args ...any) (Call, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode %s.%s: %w", c.Name, method, err)
	}
	return Call{Contract: c, Method: method, Args: args, Data: data}, nil
}

// EscrowContract builds typed calls for the escrow contract
type EscrowContract struct {
	*Contract
}

// NewEscrowContract binds the escrow ABI to address
func NewEscrowContract(address common.Address) (EscrowContract, error) {
	c, err := newContract(ContractEscrow, address, escrowABIJSON)
	if err != nil {
		return EscrowContract{}, err
	}
	return EscrowContract{Contract: c}, nil
}

// CreateJob locks amount (fixed-point USDC) for contractor
func (e EscrowContract) CreateJob(contractor common.Address, amount *big.Int) (Call, error) {
	return e.call("createJob", contractor, amount)
}

// ReleaseFunds pays the contractor
func (e EscrowContract) ReleaseFunds(jobID int64) (Call, error) {
	return e.call("releaseFunds", big.NewInt(jobID))
}

// RaiseDispute opens a dispute
func (e EscrowContract) RaiseDispute(jobID int64) (Call, error) {
	return e.call("raiseDispute", big.NewInt(jobID))
}

// SubmitAIVerdict records the AI split; percent must already be clamped
func (e EscrowContract) SubmitAIVerdict(jobID int64, contractorPercent uint8, reason string) (Call, error) {
	return e.call("submitAIVerdict", big.NewInt(jobID), contractorPercent, reason)
}

// AcceptAIVerdict accepts the AI verdict on behalf of the signer
func (e EscrowContract) AcceptAIVerdict(jobID int64) (Call, error) {
	return e.call("acceptAIVerdict", big.NewInt(jobID))
}

// RejectAIVerdict rejects the AI verdict on behalf of the signer
func (e EscrowContract) RejectAIVerdict(jobID int64) (Call, error) {
	return e.call("rejectAIVerdict", big.NewInt(jobID))
}

// CheckAIDeadline escalates on-chain if the acceptance window elapsed
func (e EscrowContract) CheckAIDeadline(jobID int64) (Call, error) {
	return e.call("checkAIDeadline", big.NewInt(jobID))
}

// DAOContract builds typed calls for the DAO voting contract
type DAOContract struct {
	*Contract
}

// NewDAOContract binds the DAO voting ABI to address
func NewDAOContract(address common.Address) (DAOContract, error) {
	c, err := newContract(ContractDAO, address, daoABIJSON)
	if err != nil {
		return DAOContract{}, err
	}
	return DAOContract{Contract: c}, nil
}

func (d DAOContract) StartVoting(jobID int64, durationSeconds uint64) (Call, error) {
	return d.call("startVoting", big.NewInt(jobID), new(big.Int).SetUint64(durationSeconds))
}

func (d DAOContract) FinalizeVoting(jobID int64) (Call, error) {
	return d.call("finalizeVoting", big.NewInt(jobID))
}

func (d DAOContract) CastVote(jobID int64, contractorPercent uint8) (Call, error) {
	return d.call("castVote", big.NewInt(jobID), contractorPercent)
}

func (d DAOContract) RegisterVoter(voter common.Address) (Call, error) {
	return d.call("registerVoter", voter)
}

func (d DAOContract) RemoveVoter(voter common.Address) (Call, error) {
	return d.call("removeVoter", voter)
}

func (d DAOContract) BanVoter(voter common.Address) (Call, error) {
	return d.call("banVoter", voter)
}

func (d DAOContract) SetVotingDuration(seconds uint64) (Call, error) {
	return d.call("setVotingDuration", new(big.Int).SetUint64(seconds))
}

func (d DAOContract) SetMinVotersRequired(count uint64) (Call, error) {
	return d.call("setMinVotersRequired", new(big.Int).SetUint64(count))
}

func (d DAOContract) SetFeePercentage(percent uint8) (Call, error) {
	return d.call("setFeePercentage", big.NewInt(int64(percent)))
}
