package dto

import (
	"time"

	"github.com/cuongbtq/escrow-engine/internal/deadline"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
)

type CreateJobRequest struct {
	Contractor string `json:"contractor" binding:"required"`
	AmountUSDC string `json:"amount_usdc" binding:"required"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	Party    string `form:"party"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type CastVoteRequest struct {
	ContractorPercent *float64 `json:"contractor_percent" binding:"required"`
}

type EscalateRequest struct {
	// DurationSeconds of zero uses the service default
	DurationSeconds int64 `json:"duration_seconds"`
}

type AddEvidenceRequest struct {
	Sender  string  `json:"sender" binding:"required"`
	Message string  `json:"message" binding:"required"`
	FileURL *string `json:"file_url"`
}

type ArbitrateRequest struct {
	RequestedBy string `json:"requested_by"`
}

type VoterRequest struct {
	Address string `json:"address" binding:"required"`
}

type ParamsRequest struct {
	VotingDurationSeconds *int64   `json:"voting_duration_seconds"`
	MinVotersRequired     *uint64  `json:"min_voters_required"`
	FeePercentage         *float64 `json:"fee_percentage"`
}

type CheckDeadlinesRequest struct {
	Limit int `json:"limit"`
}

type CheckDeadlinesResponse struct {
	Outcomes []deadline.Outcome `json:"outcomes"`
}

// TxResponse is returned by every state-changing endpoint
type TxResponse struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	ConfirmedAt string `json:"confirmed_at"`
}

type JobDTO struct {
	JobID               int64   `json:"job_id"`
	ClientAddress       string  `json:"client_address"`
	ContractorAddress   string  `json:"contractor_address"`
	AmountUSDC          string  `json:"amount_usdc"`
	Status              string  `json:"status"`
	AIContractorPercent *int    `json:"ai_contractor_percent,omitempty"`
	AIExplanation       *string `json:"ai_explanation,omitempty"`
	AIDeadline          string  `json:"ai_deadline,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type EvidenceDTO struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	Message   string  `json:"message"`
	FileURL   *string `json:"file_url,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type JobDetailResponse struct {
	JobDTO
	Evidence []EvidenceDTO `json:"evidence"`
}

func NewTxResponse(res *executor.Result) TxResponse {
	return TxResponse{
		Success:     true,
		TxHash:      res.TxHash,
		BlockNumber: res.BlockNumber,
		ConfirmedAt: res.ConfirmedAt.UTC().Format(time.RFC3339),
	}
}

func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:               job.JobID,
		ClientAddress:       job.ClientAddress,
		ContractorAddress:   job.ContractorAddress,
		AmountUSDC:          job.AmountUSDC.String(),
		Status:              string(job.Status),
		AIContractorPercent: job.AIContractorPercent,
		AIExplanation:       job.AIExplanation,
		CreatedAt:           job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.AIDeadline != nil {
		out.AIDeadline = job.AIDeadline.UTC().Format(time.RFC3339)
	}
	return out
}

func NewEvidenceDTO(ev *domain.Evidence) EvidenceDTO {
	return EvidenceDTO{
		ID:        ev.ID,
		Sender:    ev.Sender,
		Message:   ev.Message,
		FileURL:   ev.FileURL,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
	}
}
