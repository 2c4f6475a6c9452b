package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// respondWithError unified error response function
func respondWithError(c *gin.Context, statusCode int, errorType, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
	})
}

// respondServiceError maps service-layer sentinels to HTTP status codes
func respondServiceError(c *gin.Context, err error) {
	var denied *services.PolicyDeniedError
	if errors.As(err, &denied) {
		c.JSON(http.StatusForbidden, gin.H{
			"success":           false,
			"error":             "policy_denied",
			"reason_code":       denied.ReasonCode,
			"requires_approval": denied.RequiresApproval,
		})
		return
	}

	var guardrail *services.GuardrailError
	if errors.As(err, &guardrail) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error":   "guardrail_violation",
			"code":    guardrail.Code,
			"message": guardrail.Message,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrWalletNotFound),
		errors.Is(err, services.ErrPolicyNotFound),
		errors.Is(err, services.ErrApprovalNotFound),
		errors.Is(err, services.ErrProposalNotFound),
		errors.Is(err, services.ErrConfigNotFound):
		respondWithError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrApprovalExpired),
		errors.Is(err, services.ErrApprovalAlreadyDecided),
		errors.Is(err, services.ErrApprovalNotActionable),
		errors.Is(err, services.ErrApprovalNotApproved),
		errors.Is(err, services.ErrProposalAlreadyExecuted),
		errors.Is(err, services.ErrThresholdNotMet):
		respondWithError(c, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, services.ErrApprovalTokenMismatch),
		errors.Is(err, services.ErrNotSigner):
		respondWithError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, services.ErrInvalidThreshold),
		errors.Is(err, services.ErrWalletNotMultisig):
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondWithError(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// paginationParams parses page/page_size query params with defaults
func paginationParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
