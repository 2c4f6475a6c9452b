package handlers

import (
	"net/http"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WalletHandler 钱包管理接口
type WalletHandler struct {
	wallets *services.WalletService
}

// NewWalletHandler 创建钱包处理器
func NewWalletHandler(wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// CreateWalletHandler 创建托管钱包
// POST /api/wallets
func (h *WalletHandler) CreateWalletHandler(c *gin.Context) {
	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := models.SecurityModeStandard
	if req.SecurityMode != "" {
		mode = models.WalletSecurityMode(req.SecurityMode)
	}
	if mode != models.SecurityModeStandard && mode != models.SecurityModeMultisig {
		respondWithError(c, http.StatusBadRequest, "invalid_request", "security_mode must be standard or multisig")
		return
	}

	agentID := c.GetString("agent_address")
	creation, err := h.wallets.CreateWallet(c.Request.Context(), agentID, req.Chain, mode, req.Label)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// 私钥只在创建响应里出现一次
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"wallet":      creation.Wallet,
		"private_key": creation.PrivateKeyHex,
	})
}

// ImportWalletHandler 导入已有地址
// POST /api/wallets/import
func (h *WalletHandler) ImportWalletHandler(c *gin.Context) {
	var req dto.ImportWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	mode := models.SecurityModeStandard
	if req.SecurityMode != "" {
		mode = models.WalletSecurityMode(req.SecurityMode)
	}

	agentID := c.GetString("agent_address")
	wallet, err := h.wallets.ImportWallet(c.Request.Context(), req.Address, req.Chain, mode, agentID, req.Label)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "wallet": wallet})
}

// GetWalletHandler 查询单个钱包
// GET /api/wallets/:address
func (h *WalletHandler) GetWalletHandler(c *gin.Context) {
	wallet, err := h.wallets.GetWallet(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "wallet": wallet})
}

// ListWalletsHandler 列出当前 agent 的钱包
// GET /api/wallets
func (h *WalletHandler) ListWalletsHandler(c *gin.Context) {
	wallets, err := h.wallets.ListWallets(c.Request.Context(), c.GetString("agent_address"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "wallets": wallets})
}

// GetBalanceHandler 查询链上余额
// GET /api/wallets/:address/balance
func (h *WalletHandler) GetBalanceHandler(c *gin.Context) {
	balance, err := h.wallets.GetBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"address": c.Param("address"),
		"balance": balance.String(),
	})
}
