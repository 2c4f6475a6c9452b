package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"agentpay-backend/internal/app"
	"agentpay-backend/internal/config"
	"agentpay-backend/internal/handlers"
	"agentpay-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS middleware
// Priority: Environment Variable > YAML Config > Default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := true
		maxAge := 3600

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = allowedOrigins[:0]
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SetupRouter wires middleware and all API routes against the service container.
func SetupRouter(container *app.ServiceContainer) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	logger := logrus.New()
	authMiddleware := middleware.NewAuthMiddleware(logger)
	adminAuth := middleware.NewAdminAuthMiddleware(logger)

	var allowedIPs []string
	if config.AppConfig != nil {
		allowedIPs = config.AppConfig.Admin.AllowedIPs
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, allowedIPs)

	authHandler := handlers.NewAuthHandler()
	adminAuthHandler := handlers.NewAdminAuthHandler()
	walletHandler := handlers.NewWalletHandler(container.WalletService)
	policyHandler := handlers.NewPolicyHandler(container.PolicyService)
	transferHandler := handlers.NewTransferHandler(container.SettlementService)
	approvalHandler := handlers.NewApprovalHandler(container.ApprovalService, container.SettlementService)
	multisigHandler := handlers.NewMultisigHandler(container.MultisigService, container.SettlementService)
	txHandler := handlers.NewTransactionHandler(container.TransactionRepo)
	webhookHandler := handlers.NewWebhookHandler(container.WebhookService)
	wsHandler := handlers.NewWebSocketHandler(container.WebSocketPushService)
	adminHandler := handlers.NewAdminHandler(container.LifecycleService)

	// ============ Health & Metrics ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ WebSocket push ============
	r.GET("/ws", gin.WrapF(wsHandler.HandleWebSocket))

	api := r.Group("/api")
	{
		api.GET("/health", handlers.HealthCheckHandler)
		api.GET("/health/db", handlers.DatabaseHealthCheckHandler)

		// ============ 认证 ============
		auth := api.Group("/auth")
		{
			auth.GET("/nonce", authHandler.GenerateNonceHandler)
			auth.POST("/login", authHandler.AuthenticateHandler)
			auth.POST("/admin/login", adminAuthHandler.AdminLoginHandler)
			auth.GET("/admin/totp-secret", localhostOnly.Restrict(), adminAuthHandler.GenerateTOTPSecretHandler)
		}

		// ============ 钱包与策略 ============
		wallets := api.Group("/wallets")
		wallets.Use(authMiddleware.RequireAuth())
		{
			wallets.POST("", walletHandler.CreateWalletHandler)
			wallets.POST("/import", walletHandler.ImportWalletHandler)
			wallets.GET("", walletHandler.ListWalletsHandler)
			wallets.GET("/:address", walletHandler.GetWalletHandler)
			wallets.GET("/:address/balance", walletHandler.GetBalanceHandler)

			wallets.PUT("/:address/policy", policyHandler.SetPolicyHandler)
			wallets.GET("/:address/policy", policyHandler.GetPolicyHandler)
			wallets.GET("/:address/policy/usage", policyHandler.GetUsageHandler)
			wallets.POST("/:address/policy/evaluate", policyHandler.EvaluatePolicyHandler)

			wallets.POST("/:address/approvals", approvalHandler.CreateApprovalHandler)

			wallets.POST("/:address/send", transferHandler.SendHandler)
			wallets.POST("/:address/sweep", transferHandler.SweepHandler)
			wallets.POST("/:address/preflight", transferHandler.PreflightHandler)

			wallets.GET("/:address/transactions", txHandler.ListWalletTransactionsHandler)
			wallets.GET("/:address/proposals", multisigHandler.ListProposalsHandler)

			// 多签配置变更属于管理操作
			wallets.POST("/:address/multisig", adminAuth.RequireAdminAuth(), multisigHandler.CreateConfigHandler)
			wallets.GET("/:address/multisig", multisigHandler.GetConfigHandler)
		}

		// ============ 交易查询 ============
		transactions := api.Group("/transactions")
		transactions.Use(authMiddleware.RequireAuth())
		{
			transactions.GET("/:id", txHandler.GetTransactionHandler)
			transactions.GET("/hash/:hash", txHandler.GetTransactionByHashHandler)
		}

		// ============ 审批裁决（管理员） ============
		approvals := api.Group("/approvals")
		approvals.Use(adminAuth.RequireAdminAuth())
		{
			approvals.GET("", approvalHandler.ListApprovalsHandler)
			approvals.GET("/:id", approvalHandler.GetApprovalHandler)
			approvals.POST("/:id/decide", approvalHandler.DecideApprovalHandler)
			approvals.POST("/:id/execute", approvalHandler.ExecuteApprovalHandler)
		}

		// ============ 多签提案 ============
		proposals := api.Group("/proposals")
		proposals.Use(authMiddleware.RequireAuth())
		{
			proposals.GET("/:id", multisigHandler.GetProposalHandler)
			proposals.POST("/:id/approve", multisigHandler.ApproveProposalHandler)
			proposals.POST("/:id/execute", multisigHandler.ExecuteProposalHandler)
		}

		// ============ 运维状态（管理员 + IP 白名单） ============
		admin := api.Group("/admin")
		admin.Use(localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			admin.GET("/lifecycle/status", adminHandler.LifecycleStatusHandler)
		}

		// ============ Webhook 订阅管理（管理员 + IP 白名单） ============
		webhooks := api.Group("/webhooks")
		webhooks.Use(localhostOnly.Restrict(), adminAuth.RequireAdminAuth())
		{
			webhooks.POST("", webhookHandler.CreateSubscriptionHandler)
			webhooks.GET("", webhookHandler.ListSubscriptionsHandler)
			webhooks.GET("/dead-letters", webhookHandler.ListDeadLettersHandler)
			webhooks.POST("/dead-letters/:id/redeliver", webhookHandler.RedeliverDeadLetterHandler)
			webhooks.GET("/:id", webhookHandler.GetSubscriptionHandler)
			webhooks.DELETE("/:id", webhookHandler.DeactivateSubscriptionHandler)
		}
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message":    "Endpoint not found",
			"path":       c.Request.URL.Path,
			"suggestion": "Check /api endpoints for available APIs",
		})
	})

	return r
}
