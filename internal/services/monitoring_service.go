package services

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/metrics"
)

// MonitoringService 监控服务，定期把签名地址余额刷进 Prometheus metrics
// 签名地址没钱会导致所有广播静默失败，必须可告警
type MonitoringService struct {
	registry *chain.Registry
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitoringService 创建监控服务
func NewMonitoringService(registry *chain.Registry, interval time.Duration) *MonitoringService {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &MonitoringService{
		registry: registry,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动余额轮询
func (s *MonitoringService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("🚀 [Monitoring] Signer balance monitor started: interval=%v", s.interval)
		s.UpdateSignerBalances(context.Background())
		for {
			select {
			case <-ticker.C:
				s.UpdateSignerBalances(context.Background())
			case <-s.stopCh:
				log.Printf("🛑 [Monitoring] Signer balance monitor stopped")
				return
			}
		}
	}()
}

// Stop 停止轮询
func (s *MonitoringService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// UpdateSignerBalances 查询每条链签名地址的余额并更新 gauge
func (s *MonitoringService) UpdateSignerBalances(ctx context.Context) {
	for _, chainName := range s.registry.Chains() {
		adapter, err := s.registry.Resolve(chainName, "")
		if err != nil {
			continue
		}

		// 只有携带签名私钥的适配器才有可监控的地址
		signer, ok := adapter.(interface{ SignerAddress() string })
		if !ok {
			continue
		}
		address := signer.SignerAddress()
		if address == "" {
			continue
		}

		balance, err := adapter.GetBalance(ctx, address)
		if err != nil {
			log.Printf("⚠️ [Monitoring] Failed to query signer balance on %s: %v", chainName, err)
			continue
		}

		balanceFloat, _ := new(big.Float).SetInt(balance).Float64()
		metrics.SignerBalance.WithLabelValues(chainName, address).Set(balanceFloat)
	}
}
