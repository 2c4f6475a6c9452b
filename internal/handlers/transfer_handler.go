package handlers

import (
	"net/http"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// TransferHandler 结算管线入口：转账、清空、preflight
type TransferHandler struct {
	settlement *services.SettlementService
}

// NewTransferHandler 创建转账处理器
func NewTransferHandler(settlement *services.SettlementService) *TransferHandler {
	return &TransferHandler{settlement: settlement}
}

// SendHandler 发起转账
// POST /api/wallets/:address/send
// 响应的 outcome 有三个分支：broadcast / approval_required / proposal_created
func (h *TransferHandler) SendHandler(c *gin.Context) {
	var req dto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.settlement.Send(c.Request.Context(), services.SendRequest{
		WalletAddress: c.Param("address"),
		To:            req.To,
		Value:         req.Value,
		Data:          req.Data,
		Chain:         req.Chain,
		Nonce:         req.Nonce,
		RequestedBy:   c.GetString("agent_address"),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == services.OutcomeApprovalRequired || result.Outcome == services.OutcomeProposalCreated {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"success": true, "result": result})
}

// SweepHandler 清空钱包余额
// POST /api/wallets/:address/sweep
func (h *TransferHandler) SweepHandler(c *gin.Context) {
	var req dto.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.settlement.Sweep(c.Request.Context(), c.Param("address"), req.To, req.Chain, c.GetString("agent_address"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == services.OutcomeProposalCreated {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"success": true, "result": result})
}

// PreflightHandler 只模拟不广播
// POST /api/wallets/:address/preflight
func (h *TransferHandler) PreflightHandler(c *gin.Context) {
	var req dto.PreflightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.settlement.Preflight(c.Request.Context(), c.Param("address"), req.To, req.Value, req.Chain)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preflight": result})
}
