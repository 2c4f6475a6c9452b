package handlers

import (
	"net/http"
	"strconv"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// ApprovalHandler 审批请求接口
type ApprovalHandler struct {
	approvals  *services.ApprovalService
	settlement *services.SettlementService
}

// NewApprovalHandler 创建审批处理器
func NewApprovalHandler(approvals *services.ApprovalService, settlement *services.SettlementService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, settlement: settlement}
}

// CreateApprovalHandler 按转账指纹创建审批请求，重复提交幂等
// POST /api/wallets/:address/approvals
func (h *ApprovalHandler) CreateApprovalHandler(c *gin.Context) {
	var req dto.CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	approval, err := h.settlement.CreateApproval(c.Request.Context(), services.SendRequest{
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

	c.JSON(http.StatusCreated, gin.H{"success": true, "approval": approval})
}

// GetApprovalHandler 查询审批请求
// GET /api/approvals/:id
func (h *ApprovalHandler) GetApprovalHandler(c *gin.Context) {
	approval, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "approval": approval})
}

// ListApprovalsHandler 列出最近的审批请求
// GET /api/approvals
func (h *ApprovalHandler) ListApprovalsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	approvals, err := h.approvals.ListRecent(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "approvals": approvals})
}

// DecideApprovalHandler 裁决审批请求，一次性操作
// POST /api/approvals/:id/decide
func (h *ApprovalHandler) DecideApprovalHandler(c *gin.Context) {
	var req dto.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	status := models.ApprovalStatus(req.Decision)
	if status != models.ApprovalStatusApproved && status != models.ApprovalStatusRejected {
		respondWithError(c, http.StatusBadRequest, "invalid_request", "decision must be approved or rejected")
		return
	}

	approval, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := h.approvals.VerifyToken(approval, req.Token); err != nil {
		respondServiceError(c, err)
		return
	}

	decided, err := h.approvals.Decide(c.Request.Context(), c.Param("id"), status, c.GetString("admin_username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "approval": decided})
}

// ExecuteApprovalHandler 广播一笔已批准的转账
// POST /api/approvals/:id/execute
func (h *ApprovalHandler) ExecuteApprovalHandler(c *gin.Context) {
	tx, err := h.settlement.ExecuteApproved(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}
