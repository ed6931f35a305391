package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/gin-gonic/gin"
)

// StatusFor maps engine errors to HTTP status codes
func StatusFor(err error) int {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrWalletResolution):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTransactionReverted), errors.Is(err, domain.ErrStaleTransition):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := StatusFor(err)
	body := gin.H{"success": false, "error": err.Error()}

	var txErr *domain.TxError
	if errors.As(err, &txErr) {
		body["tx_hash"] = txErr.TxHash
	}

	if status == http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()), slog.String("path", c.Request.URL.Path))
		body = gin.H{"success": false, "error": msg}
	} else {
		logger.Warn(msg,
			slog.String("error", err.Error()),
			slog.Int("status", status),
			slog.String("path", c.Request.URL.Path),
		)
	}

	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
