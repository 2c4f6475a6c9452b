package handlers

import (
	"net/http"
	"strconv"

	"agentpay-backend/internal/dto"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WebhookHandler webhook 订阅与死信管理接口，仅管理员可用
type WebhookHandler struct {
	webhooks *services.WebhookService
}

func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// CreateSubscriptionHandler 创建订阅。签名密钥只写不读，响应里永远不回显
// POST /api/webhooks
func (h *WebhookHandler) CreateSubscriptionHandler(c *gin.Context) {
	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sub, err := h.webhooks.CreateSubscription(c.Request.Context(), &models.WebhookSubscription{
		URL:           req.URL,
		SigningSecret: req.Secret,
		EventFilters:  req.EventFilters,
		ChainFilter:   req.ChainFilter,
		MaxRetries:    req.MaxRetries,
		BaseBackoffMs: req.BaseBackoffMs,
		Active:        true,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"subscription": sub,
	})
}

// GET /api/webhooks
func (h *WebhookHandler) ListSubscriptionsHandler(c *gin.Context) {
	subs, err := h.webhooks.ListSubscriptions(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"subscriptions": subs,
	})
}

// GET /api/webhooks/:id
func (h *WebhookHandler) GetSubscriptionHandler(c *gin.Context) {
	sub, err := h.webhooks.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"subscription": sub,
	})
}

// DeactivateSubscriptionHandler 停用订阅，后续事件不再投递
// DELETE /api/webhooks/:id
func (h *WebhookHandler) DeactivateSubscriptionHandler(c *gin.Context) {
	if err := h.webhooks.DeactivateSubscription(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Subscription deactivated",
	})
}

// ListDeadLettersHandler 查看投递彻底失败的事件
// GET /api/webhooks/dead-letters
func (h *WebhookHandler) ListDeadLettersHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	letters, err := h.webhooks.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"dead_letters": letters,
	})
}

// RedeliverDeadLetterHandler 手动重投死信，成功后删除记录
// POST /api/webhooks/dead-letters/:id/redeliver
func (h *WebhookHandler) RedeliverDeadLetterHandler(c *gin.Context) {
	if err := h.webhooks.RedeliverDeadLetter(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Delivered",
	})
}
