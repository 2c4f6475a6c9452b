package handlers

import (
	"net/http"

	"agentpay-backend/internal/db"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler 存活探针
// GET /api/health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "agentpay-backend",
		"api":     "healthy",
	})
}

// DatabaseHealthCheckHandler 数据库连通性探针
// GET /api/health/db
func DatabaseHealthCheckHandler(c *gin.Context) {
	if db.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"database": "not initialized",
		})
		return
	}

	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"database": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "healthy",
	})
}
