package handlers

import (
	"net/http"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/services"
	"agentpay-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// MultisigHandler 多签配置与提案接口
type MultisigHandler struct {
	multisig   *services.MultisigService
	settlement *services.SettlementService
}

func NewMultisigHandler(multisig *services.MultisigService, settlement *services.SettlementService) *MultisigHandler {
	return &MultisigHandler{multisig: multisig, settlement: settlement}
}

// CreateConfigHandler 为钱包设置 N-of-M 多签配置
// POST /api/wallets/:address/multisig
func (h *MultisigHandler) CreateConfigHandler(c *gin.Context) {
	var req dto.CreateMultisigConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	scope := models.MultisigScope(req.Scope)
	if req.Scope == "" {
		scope = models.MultisigScopeAll
	}
	switch scope {
	case models.MultisigScopeAll, models.MultisigScopeAboveAmount, models.MultisigScopeSpecificChains:
	default:
		respondWithError(c, http.StatusBadRequest, "invalid_request", "scope must be all, above_amount or specific_chains")
		return
	}

	config, err := h.multisig.CreateConfig(c.Request.Context(), &models.MultisigConfig{
		WalletAddress: utils.NormalizeAddress(c.Param("address")),
		Signers:       req.Signers,
		Threshold:     req.Threshold,
		Scope:         scope,
		ScopeAmount:   req.ScopeAmount,
		ScopeChains:   req.ScopeChains,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"config":  config,
	})
}

// GetConfigHandler 查询钱包当前生效的多签配置
// GET /api/wallets/:address/multisig
func (h *MultisigHandler) GetConfigHandler(c *gin.Context) {
	config, err := h.multisig.GetConfigForWallet(c.Request.Context(), utils.NormalizeAddress(c.Param("address")))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config":  config,
	})
}

// GetProposalHandler 查询单个提案
// GET /api/proposals/:id
func (h *MultisigHandler) GetProposalHandler(c *gin.Context) {
	proposal, err := h.multisig.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"proposal": proposal,
	})
}

// ListProposalsHandler 按钱包分页查询提案，支持 status 过滤
// GET /api/wallets/:address/proposals
func (h *MultisigHandler) ListProposalsHandler(c *gin.Context) {
	page, pageSize := paginationParams(c)

	proposals, total, err := h.multisig.ListProposals(c.Request.Context(),
		utils.NormalizeAddress(c.Param("address")), c.Query("status"), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"proposals": proposals,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ApproveProposalHandler 签名人签署提案。重复签署幂等，不叠加计数
// POST /api/proposals/:id/approve
func (h *MultisigHandler) ApproveProposalHandler(c *gin.Context) {
	var req dto.ApproveProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	proposal, err := h.multisig.Approve(c.Request.Context(), c.Param("id"), req.SignerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"proposal":   proposal,
		"executable": proposal.CanExecute(),
	})
}

// ExecuteProposalHandler 凑齐阈值后执行提案，走正常结算管线
// POST /api/proposals/:id/execute
func (h *MultisigHandler) ExecuteProposalHandler(c *gin.Context) {
	tx, err := h.settlement.ExecuteProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"transaction": tx,
	})
}
