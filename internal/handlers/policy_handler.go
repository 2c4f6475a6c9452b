package handlers

import (
	"net/http"
	"time"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/services"
	"agentpay-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// PolicyHandler 钱包支出策略接口
type PolicyHandler struct {
	policy *services.PolicyService
}

// NewPolicyHandler 创建策略处理器
func NewPolicyHandler(policy *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{policy: policy}
}

// SetPolicyHandler 整体覆盖钱包策略
// PUT /api/wallets/:address/policy
func (h *PolicyHandler) SetPolicyHandler(c *gin.Context) {
	var req dto.SetPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	perTxLimit, err := resolveLimit(req.PerTxLimit, req.PerTxLimitEth)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_policy", "per_tx_limit: "+err.Error())
		return
	}
	dailyLimit, err := resolveLimit(req.DailyLimit, req.DailyLimitEth)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_policy", "daily_limit: "+err.Error())
		return
	}

	policy, err := h.policy.SetPolicy(c.Request.Context(), &models.Policy{
		WalletAddress:     c.Param("address"),
		Enabled:           req.Enabled,
		PerTxLimit:        perTxLimit,
		DailyLimit:        dailyLimit,
		AllowedRecipients: models.StringList(req.AllowedRecipients),
		BlockedRecipients: models.StringList(req.BlockedRecipients),
	})
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_policy", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "policy": policy})
}

// resolveLimit base units 字段优先，否则把 18 位小数的 ETH 金额换算成 base units
func resolveLimit(baseUnits, eth *string) (*string, error) {
	if baseUnits != nil {
		return baseUnits, nil
	}
	if eth == nil {
		return nil, nil
	}
	v, err := utils.DecimalToBaseUnits(*eth, 18)
	if err != nil {
		return nil, err
	}
	s := v.String()
	return &s, nil
}

// GetPolicyHandler 查询钱包策略
// GET /api/wallets/:address/policy
func (h *PolicyHandler) GetPolicyHandler(c *gin.Context) {
	policy, err := h.policy.GetPolicy(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "policy": policy})
}

// EvaluatePolicyHandler 干跑策略评估：只返回决策，不广播也不占用额度
// POST /api/wallets/:address/policy/evaluate
func (h *PolicyHandler) EvaluatePolicyHandler(c *gin.Context) {
	var req dto.EvaluatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	value, err := utils.ParseBaseUnits(req.Value)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", "value: "+err.Error())
		return
	}

	decision, err := h.policy.Evaluate(c.Request.Context(), c.Param("address"), req.To, value, services.DayKey(time.Now()))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "decision": decision})
}

// GetUsageHandler 查询当日已用额度
// GET /api/wallets/:address/policy/usage
func (h *PolicyHandler) GetUsageHandler(c *gin.Context) {
	dayKey := c.DefaultQuery("day", services.DayKey(time.Now()))

	spent, err := h.policy.GetUsage(c.Request.Context(), c.Param("address"), dayKey)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wallet":  c.Param("address"),
		"day":     dayKey,
		"spent":   spent.String(),
	})
}
