package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/api/dto"
	"github.com/cuongbtq/escrow-engine/internal/executor"
	"github.com/gin-gonic/gin"
)

// RegisterVoter handles POST /api/v1/admin/voters
func (h *AdminHandler) RegisterVoter(c *gin.Context) {
	var req dto.VoterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	h.voterOp(c, "Failed to register voter", req.Address, h.svc.RegisterVoter)
}

// RemoveVoter handles DELETE /api/v1/admin/voters/:address
func (h *AdminHandler) RemoveVoter(c *gin.Context) {
	h.voterOp(c, "Failed to remove voter", c.Param("address"), h.svc.RemoveVoter)
}

// BanVoter handles POST /api/v1/admin/voters/:address/ban
func (h *AdminHandler) BanVoter(c *gin.Context) {
	h.voterOp(c, "Failed to ban voter", c.Param("address"), h.svc.BanVoter)
}

// SetParams handles PUT /api/v1/admin/params
// Each present field is a separate transaction, applied in field order
func (h *AdminHandler) SetParams(c *gin.Context) {
	var req dto.ParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if req.VotingDurationSeconds == nil && req.MinVotersRequired == nil && req.FeePercentage == nil {
		badRequest(c, "at least one parameter is required")
		return
	}
	if req.VotingDurationSeconds != nil && *req.VotingDurationSeconds <= 0 {
		badRequest(c, "voting_duration_seconds must be positive")
		return
	}

	ctx := c.Request.Context()
	applied := gin.H{}

	if req.VotingDurationSeconds != nil {
		res, err := h.svc.SetVotingDuration(ctx, time.Duration(*req.VotingDurationSeconds)*time.Second)
		if err != nil {
			respondError(c, h.logger, "Failed to set voting duration", err)
			return
		}
		applied["voting_duration"] = dto.NewTxResponse(res)
	}

	if req.MinVotersRequired != nil {
		res, err := h.svc.SetMinVotersRequired(ctx, *req.MinVotersRequired)
		if err != nil {
			respondError(c, h.logger, "Failed to set minimum voters", err)
			return
		}
		applied["min_voters_required"] = dto.NewTxResponse(res)
	}

	if req.FeePercentage != nil {
		res, err := h.svc.SetFeePercentage(ctx, *req.FeePercentage)
		if err != nil {
			respondError(c, h.logger, "Failed to set fee percentage", err)
			return
		}
		applied["fee_percentage"] = dto.NewTxResponse(res)
	}

	c.JSON(http.StatusOK, applied)
}

// CheckDeadlines handles POST /api/v1/admin/deadlines/check
// Checks every mirrored verdict whose acceptance window has passed
func (h *AdminHandler) CheckDeadlines(c *gin.Context) {
	var req dto.CheckDeadlinesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	outcomes, err := h.svc.CheckExpiredDeadlines(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, h.logger, "Failed to check deadlines", err)
		return
	}
	c.JSON(http.StatusOK, dto.CheckDeadlinesResponse{Outcomes: outcomes})
}

func (h *AdminHandler) voterOp(c *gin.Context, msg, voter string, op func(context.Context, string) (*executor.Result, error)) {
	res, err := op(c.Request.Context(), voter)
	if err != nil {
		respondError(c, h.logger, msg, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTxResponse(res))
}
