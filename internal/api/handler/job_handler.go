package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/api/dto"
	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/cuongbtq/escrow-engine/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderWalletID names the caller's custodial wallet directly
	HeaderWalletID = "X-Wallet-ID"
	// HeaderUserID is resolved to a wallet through the user wallet directory
	HeaderUserID = "X-User-ID"

	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Locks funds in escrow; the mirrored row appears once JobCreated is reconciled
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "Invalid request body")
		return
	}

	amount, err := domain.ParseUSDC(req.AmountUSDC)
	if err != nil {
		respondError(c, h.logger, "Invalid amount", err)
		return
	}

	walletID, ok := h.walletID(c)
	if !ok {
		return
	}

	res, err := h.svc.CreateJob(c.Request.Context(), walletID, req.Contractor, amount)
	if err != nil {
		respondError(c, h.logger, "Failed to create job", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewTxResponse(res))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	evidence := make([]dto.EvidenceDTO, len(detail.Evidence))
	for i := range detail.Evidence {
		evidence[i] = dto.NewEvidenceDTO(&detail.Evidence[i])
	}

	c.JSON(http.StatusOK, dto.JobDetailResponse{
		JobDTO:   dto.NewJobDTO(detail.Job),
		Evidence: evidence,
	})
}

// ListJobs handles GET /api/v1/jobs
// Lists mirrored jobs with optional status and party filters, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		badRequest(c, "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		badRequest(c, "Invalid cursor")
		return
	}

	jobs, err := h.svc.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   domain.JobStatus(req.Status),
		Party:    req.Party,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list jobs", err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID})
	}

	c.JSON(http.StatusOK, resp)
}

// ReleaseFunds handles POST /api/v1/jobs/:job_id/release
func (h *JobHandler) ReleaseFunds(c *gin.Context) {
	h.custodialJobOp(c, "Failed to release funds", h.svc.ReleaseFunds)
}

// RaiseDispute handles POST /api/v1/jobs/:job_id/dispute
func (h *JobHandler) RaiseDispute(c *gin.Context) {
	h.custodialJobOp(c, "Failed to raise dispute", h.svc.RaiseDispute)
}

// AcceptVerdict handles POST /api/v1/jobs/:job_id/accept
func (h *JobHandler) AcceptVerdict(c *gin.Context) {
	h.custodialJobOp(c, "Failed to accept verdict", h.svc.AcceptVerdict)
}

// RejectVerdict handles POST /api/v1/jobs/:job_id/reject
func (h *JobHandler) RejectVerdict(c *gin.Context) {
	h.custodialJobOp(c, "Failed to reject verdict", h.svc.RejectVerdict)
}

// CastVote handles POST /api/v1/jobs/:job_id/vote
func (h *JobHandler) CastVote(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	walletID, ok := h.walletID(c)
	if !ok {
		return
	}

	res, err := h.svc.CastVote(c.Request.Context(), walletID, jobID, *req.ContractorPercent)
	if err != nil {
		respondError(c, h.logger, "Failed to cast vote", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTxResponse(res))
}

// AddEvidence handles POST /api/v1/jobs/:job_id/evidence
func (h *JobHandler) AddEvidence(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.AddEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	ev, err := h.svc.AddEvidence(c.Request.Context(), jobID, req.Sender, req.Message, req.FileURL)
	if err != nil {
		respondError(c, h.logger, "Failed to add evidence", err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewEvidenceDTO(ev))
}

// RequestArbitration handles POST /api/v1/jobs/:job_id/arbitrate
// Queues a re-run of AI arbitration for a dispute that has no verdict yet
func (h *JobHandler) RequestArbitration(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.ArbitrateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	if req.RequestedBy == "" {
		req.RequestedBy = c.GetHeader(HeaderUserID)
	}

	if err := h.svc.RequestArbitration(c.Request.Context(), jobID, req.RequestedBy); err != nil {
		respondError(c, h.logger, "Failed to request arbitration", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "queued",
	})
}

// CheckDeadline handles POST /api/v1/jobs/:job_id/check-deadline
func (h *JobHandler) CheckDeadline(c *gin.Context) {
	h.systemJobOp(c, "Failed to check AI deadline", h.svc.CheckAIDeadline)
}

// Escalate handles POST /api/v1/jobs/:job_id/escalate
func (h *JobHandler) Escalate(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.EscalateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	if req.DurationSeconds < 0 {
		badRequest(c, "duration_seconds must not be negative")
		return
	}

	res, err := h.svc.EscalateToDAO(c.Request.Context(), jobID, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		respondError(c, h.logger, "Failed to escalate to DAO", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTxResponse(res))
}

// FinalizeVoting handles POST /api/v1/jobs/:job_id/finalize
func (h *JobHandler) FinalizeVoting(c *gin.Context) {
	h.systemJobOp(c, "Failed to finalize voting", h.svc.FinalizeVoting)
}

func (h *JobHandler) custodialJobOp(c *gin.Context, msg string, op func(context.Context, string, int64) (*executor.Result, error)) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	walletID, ok := h.walletID(c)
	if !ok {
		return
	}

	res, err := op(c.Request.Context(), walletID, jobID)
	if err != nil {
		respondError(c, h.logger, msg, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTxResponse(res))
}

func (h *JobHandler) systemJobOp(c *gin.Context, msg string, op func(context.Context, int64) (*executor.Result, error)) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	res, err := op(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, msg, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTxResponse(res))
}

// walletID takes the wallet from X-Wallet-ID, or resolves X-User-ID
// through the directory. It writes the error response itself.
func (h *JobHandler) walletID(c *gin.Context) (string, bool) {
	if id := c.GetHeader(HeaderWalletID); id != "" {
		return id, true
	}

	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		badRequest(c, HeaderWalletID+" or "+HeaderUserID+" header is required")
		return "", false
	}

	walletID, err := h.svc.WalletFor(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, "Failed to resolve wallet", err)
		return "", false
	}
	return walletID, true
}

func jobIDParam(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || jobID < 0 {
		badRequest(c, "job_id must be a non-negative integer")
		return 0, false
	}
	return jobID, true
}
