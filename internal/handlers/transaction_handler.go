package handlers

import (
	"errors"
	"net/http"

	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// TransactionHandler 交易记录查询接口
type TransactionHandler struct {
	txRepo repository.TransactionRepository
}

// NewTransactionHandler 创建交易查询处理器
func NewTransactionHandler(txRepo repository.TransactionRepository) *TransactionHandler {
	return &TransactionHandler{txRepo: txRepo}
}

// GetTransactionHandler 按 ID 查询交易
// GET /api/transactions/:id
func (h *TransactionHandler) GetTransactionHandler(c *gin.Context) {
	tx, err := h.txRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondWithError(c, http.StatusNotFound, "not_found", "transaction not found")
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

// GetTransactionByHashHandler 按链上哈希查询交易
// GET /api/transactions/hash/:hash
func (h *TransactionHandler) GetTransactionByHashHandler(c *gin.Context) {
	tx, err := h.txRepo.GetByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondWithError(c, http.StatusNotFound, "not_found", "transaction not found")
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

// ListWalletTransactionsHandler 按钱包分页列出交易
// GET /api/wallets/:address/transactions
func (h *TransactionHandler) ListWalletTransactionsHandler(c *gin.Context) {
	page, pageSize := paginationParams(c)

	txs, total, err := h.txRepo.ListByWallet(c.Request.Context(), utils.NormalizeAddress(c.Param("address")), c.Query("state"), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": txs,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}
