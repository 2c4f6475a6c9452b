package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/events"
	"agentpay-backend/internal/metrics"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
)

// LifecycleService 交易生命周期跟踪服务
// 轮询链上回执，推进 submitted → pending → {confirmed, failed} 状态机
type LifecycleService struct {
	repo      repository.TransactionRepository
	registry  *chain.Registry
	webhooks  *WebhookService
	interval  time.Duration
	batchSize int

	push *WebSocketPushService // 可选，设置后状态变更实时推送到 websocket 客户端

	pollMutex sync.Mutex // 单轮询在途保护，上一轮未结束时跳过本轮
	stopChan  chan struct{}
	wg        sync.WaitGroup

	statusMu      sync.RWMutex
	running       bool
	lastPollAt    time.Time
	lastPollCount int
}

// LifecycleStatus 跟踪器运行状态快照
type LifecycleStatus struct {
	Running       bool      `json:"running"`
	PollInterval  string    `json:"poll_interval"`
	BatchSize     int       `json:"batch_size"`
	LastPollAt    time.Time `json:"last_poll_at"`
	LastPollCount int       `json:"last_poll_count"` // 上一轮实际轮询到的在途交易数
}

// NewLifecycleService 创建生命周期跟踪服务
func NewLifecycleService(repo repository.TransactionRepository, registry *chain.Registry, webhooks *WebhookService, interval time.Duration, batchSize int) *LifecycleService {
	return &LifecycleService{
		repo:      repo,
		registry:  registry,
		webhooks:  webhooks,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

// SetPushService 注入 websocket 推送服务
func (s *LifecycleService) SetPushService(push *WebSocketPushService) {
	s.push = push
}

// Status 返回跟踪器当前状态
func (s *LifecycleService) Status() LifecycleStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return LifecycleStatus{
		Running:       s.running,
		PollInterval:  s.interval.String(),
		BatchSize:     s.batchSize,
		LastPollAt:    s.lastPollAt,
		LastPollCount: s.lastPollCount,
	}
}

func (s *LifecycleService) setRunning(running bool) {
	s.statusMu.Lock()
	s.running = running
	s.statusMu.Unlock()
}

// Start 启动回执轮询后台任务
func (s *LifecycleService) Start() {
	s.setRunning(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("🚀 [Lifecycle] Receipt poller started: interval=%v, batchSize=%d", s.interval, s.batchSize)
		for {
			select {
			case <-ticker.C:
				s.PollOnce(context.Background())
			case <-s.stopChan:
				log.Printf("🛑 [Lifecycle] Receipt poller stopped")
				return
			}
		}
	}()
}

// Stop 停止轮询
func (s *LifecycleService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.setRunning(false)
}

// PollOnce 执行一轮回执轮询
// 同一时刻只允许一轮在途：并发读同一批记录会导致重复的 webhook 触发
func (s *LifecycleService) PollOnce(ctx context.Context) {
	if !s.pollMutex.TryLock() {
		log.Printf("⏳ [Lifecycle] Previous poll still running, skipping tick")
		return
	}
	defer s.pollMutex.Unlock()

	active, err := s.repo.FindActive(ctx)
	if err != nil {
		log.Printf("❌ [Lifecycle] Failed to load active transactions: %v", err)
		return
	}

	metrics.TransactionsInFlight.Set(float64(len(active)))
	s.statusMu.Lock()
	s.lastPollAt = time.Now()
	s.lastPollCount = len(active)
	s.statusMu.Unlock()

	if len(active) == 0 {
		return
	}

	if s.batchSize > 0 && len(active) > s.batchSize {
		active = active[:s.batchSize]
	}

	for _, tx := range active {
		if err := s.pollTransaction(ctx, tx); err != nil {
			// 适配器不可达时保持当前状态，只有拿到失败回执才算确认失败
			log.Printf("⚠️ [Lifecycle] Poll failed for tx %s (%s), keeping state %s: %v",
				tx.Hash, tx.Chain, tx.State, err)
		}
	}
}

// pollTransaction 查询单笔交易的回执并推进状态
func (s *LifecycleService) pollTransaction(ctx context.Context, tx *models.Transaction) error {
	adapter, err := s.registry.Resolve(tx.Chain, "")
	if err != nil {
		metrics.ReceiptPolls.WithLabelValues(tx.Chain, "no_adapter").Inc()
		return err
	}

	receipt, err := adapter.GetReceipt(ctx, tx.Hash)
	if err != nil {
		if errors.Is(err, chain.ErrReceiptNotFound) {
			metrics.ReceiptPolls.WithLabelValues(tx.Chain, "not_found").Inc()
			// 首次观察到已进入内存池但没有回执：submitted → pending
			if tx.State == models.TxStateSubmitted {
				return s.advance(ctx, tx, models.TxStatePending, nil)
			}
			return nil
		}
		metrics.ReceiptPolls.WithLabelValues(tx.Chain, "error").Inc()
		return err
	}

	metrics.ReceiptPolls.WithLabelValues(tx.Chain, "receipt").Inc()

	target := models.TxStateConfirmed
	if !receipt.Succeeded() {
		target = models.TxStateFailed
	}
	return s.advance(ctx, tx, target, receipt)
}

// advance 幂等地推进交易状态，只允许前向转移
func (s *LifecycleService) advance(ctx context.Context, tx *models.Transaction, target models.TransactionState, receipt *chain.Receipt) error {
	// 重复观察同一终态是空操作
	if target.Rank() <= tx.State.Rank() {
		return nil
	}
	if tx.State.IsFinal() {
		return nil
	}

	now := time.Now()
	previous := tx.State
	tx.State = target
	tx.History = append(tx.History, models.StateTransition{
		From: previous,
		To:   target,
		At:   now,
	})

	switch target {
	case models.TxStatePending:
		tx.PendingAt = &now
	case models.TxStateConfirmed:
		tx.ConfirmedAt = &now
	case models.TxStateFailed:
		tx.FailedAt = &now
		tx.FailReason = "reverted on chain"
	}

	if receipt != nil {
		tx.BlockNumber = receipt.BlockNumber
		tx.GasUsed = receipt.GasUsed
		if receipt.EffectiveGasPrice != nil {
			actualFee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
			tx.ActualFee = actualFee.String()
		}
	}

	if err := s.repo.Update(ctx, tx); err != nil {
		return fmt.Errorf("failed to persist state change: %w", err)
	}

	log.Printf("🔄 [Lifecycle] Transaction %s advanced to %s (chain=%s, block=%d)",
		tx.Hash, target, tx.Chain, tx.BlockNumber)

	events.PublishTransactionState(tx)
	if s.push != nil {
		s.push.PushTransactionUpdate(tx)
	}
	s.webhooks.Emit(ctx, WebhookEvent{
		Type:    fmt.Sprintf("transaction.%s", target),
		Chain:   tx.Chain,
		Payload: tx,
	})
	return nil
}
