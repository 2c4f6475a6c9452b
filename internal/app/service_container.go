package app

import (
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/clients"
	"agentpay-backend/internal/config"
	"agentpay-backend/internal/db"
	"agentpay-backend/internal/events"
	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/services"

	"gorm.io/gorm"
)

// ServiceContainer 服务容器，集中装配仓储、链适配器与各业务服务
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	WalletRepo      repository.WalletRepository
	PolicyRepo      repository.PolicyRepository
	TransactionRepo repository.TransactionRepository
	ApprovalRepo    repository.ApprovalRepository
	MultisigRepo    repository.MultisigRepository
	WebhookRepo     repository.WebhookRepository

	// Chain access
	Registry       *chain.Registry
	GasPriceClient *clients.GasPriceClient

	// Core Services
	WalletService     *services.WalletService
	PolicyService     *services.PolicyService
	PreflightService  *services.PreflightService
	ApprovalService   *services.ApprovalService
	MultisigService   *services.MultisigService
	WebhookService    *services.WebhookService
	SettlementService *services.SettlementService
	LifecycleService  *services.LifecycleService
	MonitoringService *services.MonitoringService

	// Push Service
	WebSocketPushService *services.WebSocketPushService
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer 初始化全局服务容器（幂等）
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		container := &ServiceContainer{
			DB: db.DB,
		}

		container.initRepositories()

		if err := container.initChainRegistry(); err != nil {
			initErr = fmt.Errorf("failed to initialize chain registry: %w", err)
			return
		}

		if err := container.initCoreServices(); err != nil {
			initErr = fmt.Errorf("failed to initialize core services: %w", err)
			return
		}

		// NATS 事件发布是可选的，失败只降级不中断启动
		if err := events.InitNATSServices(); err != nil {
			log.Printf("⚠️ Event services initialization skipped or failed: %v", err)
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	return Container, initErr
}

// initRepositories 初始化 Repository 层
func (c *ServiceContainer) initRepositories() {
	log.Println("📦 Initializing Repositories...")

	c.WalletRepo = repository.NewWalletRepository(c.DB)
	c.PolicyRepo = repository.NewPolicyRepository(c.DB)
	c.TransactionRepo = repository.NewTransactionRepository(c.DB)
	c.ApprovalRepo = repository.NewApprovalRepository(c.DB)
	c.MultisigRepo = repository.NewMultisigRepository(c.DB)
	c.WebhookRepo = repository.NewWebhookRepository(c.DB)

	log.Println("✅ Repositories initialized")
}

// initChainRegistry 按配置建立每条启用链的适配器
func (c *ServiceContainer) initChainRegistry() error {
	log.Println("⛓️ Initializing chain registry...")

	c.Registry = chain.NewRegistry()

	enabled := 0
	for name, network := range config.AppConfig.Blockchain.Networks {
		if !network.Enabled {
			log.Printf("⏭️ [ServiceContainer] Chain %s disabled, skipping", name)
			continue
		}

		adapter, err := chain.NewEVMAdapter(chain.EVMConfig{
			ChainName:    name,
			ChainID:      network.ChainID,
			RPCEndpoints: network.RPCEndpoints,
			PrivateKey:   network.PrivateKey,
			GasLimit:     network.GasLimit,
		})
		if err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}

		c.Registry.Register(name, chain.WildcardProvider, adapter)
		enabled++
		log.Printf("✅ [ServiceContainer] Chain %s registered (chainId=%d)", name, network.ChainID)
	}

	if enabled == 0 {
		return fmt.Errorf("no enabled chains in configuration")
	}
	return nil
}

// initCoreServices 初始化业务服务
func (c *ServiceContainer) initCoreServices() error {
	log.Println("🔧 Initializing Core Services...")

	cfg := config.AppConfig

	if cfg.Policy.GasOracleURL != "" {
		c.GasPriceClient = clients.NewGasPriceClient(cfg.Policy.GasOracleURL)
	}

	c.WebSocketPushService = services.NewWebSocketPushService()

	c.WalletService = services.NewWalletService(c.WalletRepo, c.Registry)
	c.PolicyService = services.NewPolicyService(c.PolicyRepo)
	c.PreflightService = services.NewPreflightService(c.Registry, c.GasPriceClient)

	c.ApprovalService = services.NewApprovalService(
		c.ApprovalRepo,
		cfg.Auth.ApprovalTokenSecret,
		time.Duration(cfg.Approvals.TTLSeconds)*time.Second,
		time.Duration(cfg.Approvals.SweepInterval)*time.Second,
	)
	c.ApprovalService.SetPushService(c.WebSocketPushService)

	c.MultisigService = services.NewMultisigService(c.MultisigRepo)
	c.MultisigService.SetPushService(c.WebSocketPushService)

	c.WebhookService = services.NewWebhookService(
		c.WebhookRepo,
		time.Duration(cfg.Webhooks.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Webhooks.MaxBackoffMs)*time.Millisecond,
	)
	c.ApprovalService.SetWebhookService(c.WebhookService)
	c.ApprovalService.Start()
	c.MultisigService.SetWebhookService(c.WebhookService)

	c.SettlementService = services.NewSettlementService(
		c.WalletRepo,
		c.TransactionRepo,
		c.PolicyService,
		c.ApprovalService,
		c.MultisigService,
		c.PreflightService,
		c.Registry,
		c.WebhookService,
		settlementOptions(cfg),
	)
	c.SettlementService.SetPushService(c.WebSocketPushService)

	c.LifecycleService = services.NewLifecycleService(
		c.TransactionRepo,
		c.Registry,
		c.WebhookService,
		time.Duration(cfg.Lifecycle.PollInterval)*time.Second,
		cfg.Lifecycle.BatchSize,
	)
	c.LifecycleService.SetPushService(c.WebSocketPushService)
	c.LifecycleService.Start()

	c.MonitoringService = services.NewMonitoringService(c.Registry, time.Minute)
	c.MonitoringService.Start()

	log.Println("✅ Core Services initialized")
	return nil
}

// Shutdown 停掉后台轮询并等待在途 webhook 投递收尾
func (c *ServiceContainer) Shutdown() {
	log.Println("🛑 Shutting down Service Container...")

	if c.MonitoringService != nil {
		c.MonitoringService.Stop()
	}
	if c.LifecycleService != nil {
		c.LifecycleService.Stop()
	}
	if c.ApprovalService != nil {
		c.ApprovalService.Stop()
	}
	if c.WebhookService != nil {
		c.WebhookService.Wait()
	}
	events.CloseNATS()

	log.Println("✅ Service Container shut down")
}

// settlementOptions 从配置解析结算护栏，解析失败时留空表示关闭对应护栏
func settlementOptions(cfg *config.Config) services.SettlementOptions {
	opts := services.SettlementOptions{
		GasGuardBps: cfg.Policy.GasGuardBps,
	}
	if cfg.Policy.DustFloorWei != "" {
		if v, ok := new(big.Int).SetString(cfg.Policy.DustFloorWei, 10); ok {
			opts.DustFloor = v
		} else {
			log.Printf("⚠️ [ServiceContainer] Invalid dustFloorWei %q, dust guard disabled", cfg.Policy.DustFloorWei)
		}
	}
	if cfg.Policy.DefaultFeeCapWei != "" {
		if v, ok := new(big.Int).SetString(cfg.Policy.DefaultFeeCapWei, 10); ok {
			opts.FeeCap = v
		} else {
			log.Printf("⚠️ [ServiceContainer] Invalid defaultFeeCapWei %q, fee cap disabled", cfg.Policy.DefaultFeeCapWei)
		}
	}
	return opts
}
