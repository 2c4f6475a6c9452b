package handlers

import (
	"net/http"

	"agentpay-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler 运维管理接口
type AdminHandler struct {
	lifecycle *services.LifecycleService
}

func NewAdminHandler(lifecycle *services.LifecycleService) *AdminHandler {
	return &AdminHandler{lifecycle: lifecycle}
}

// LifecycleStatusHandler 查询生命周期追踪器运行状态
// GET /api/admin/lifecycle/status
func (h *AdminHandler) LifecycleStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  h.lifecycle.Status(),
	})
}
