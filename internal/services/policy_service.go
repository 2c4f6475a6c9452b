package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"agentpay-backend/internal/metrics"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/utils"
)

// PolicyService 钱包支出策略服务
// 维护每个钱包的支出规则与按 UTC 日累计的已用额度
type PolicyService struct {
	repo      repository.PolicyRepository
	dayLocks  map[string]*sync.Mutex // 日额度读改写锁：wallet:day -> mutex
	lockMutex sync.RWMutex           // 保护 dayLocks 的锁
}

// NewPolicyService 创建策略服务
func NewPolicyService(repo repository.PolicyRepository) *PolicyService {
	return &PolicyService{
		repo:     repo,
		dayLocks: make(map[string]*sync.Mutex),
	}
}

// DayKey 返回时间戳对应的 UTC 日 key
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// getOrCreateDayLock 获取或创建 wallet:day 级别的锁
func (s *PolicyService) getOrCreateDayLock(walletAddress, dayKey string) *sync.Mutex {
	key := fmt.Sprintf("%s:%s", walletAddress, dayKey)

	s.lockMutex.RLock()
	lock, exists := s.dayLocks[key]
	s.lockMutex.RUnlock()

	if exists {
		return lock
	}

	s.lockMutex.Lock()
	defer s.lockMutex.Unlock()

	// 双重检查
	if lock, exists := s.dayLocks[key]; exists {
		return lock
	}

	lock = &sync.Mutex{}
	s.dayLocks[key] = lock
	return lock
}

// SetPolicy 创建或整体覆盖钱包策略（不做字段合并）
func (s *PolicyService) SetPolicy(ctx context.Context, policy *models.Policy) (*models.Policy, error) {
	policy.WalletAddress = utils.NormalizeAddress(policy.WalletAddress)

	if policy.PerTxLimit != nil {
		if _, err := utils.ParseBaseUnits(*policy.PerTxLimit); err != nil {
			return nil, fmt.Errorf("invalid perTxLimit: %w", err)
		}
	}
	if policy.DailyLimit != nil {
		if _, err := utils.ParseBaseUnits(*policy.DailyLimit); err != nil {
			return nil, fmt.Errorf("invalid dailyLimit: %w", err)
		}
	}
	for i, addr := range policy.AllowedRecipients {
		policy.AllowedRecipients[i] = utils.NormalizeAddress(addr)
	}
	for i, addr := range policy.BlockedRecipients {
		policy.BlockedRecipients[i] = utils.NormalizeAddress(addr)
	}

	existing, err := s.repo.GetPolicy(ctx, policy.WalletAddress)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load existing policy: %w", err)
	}
	if existing != nil {
		policy.Version = existing.Version + 1
		policy.CreatedAt = existing.CreatedAt
	} else {
		policy.Version = 1
	}

	if err := s.repo.SavePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}

	log.Printf("✅ [Policy] Policy saved: wallet=%s, version=%d, enabled=%v", policy.WalletAddress, policy.Version, policy.Enabled)
	return policy, nil
}

// GetPolicy 获取钱包策略
func (s *PolicyService) GetPolicy(ctx context.Context, walletAddress string) (*models.Policy, error) {
	policy, err := s.repo.GetPolicy(ctx, utils.NormalizeAddress(walletAddress))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

// Evaluate 评估一笔转账是否符合钱包策略
// 按固定顺序短路检查：无策略/停用放行 → 黑名单 → 白名单 → 单笔上限 → 日累计上限
// 纯读操作，不产生任何额度占用
func (s *PolicyService) Evaluate(ctx context.Context, walletAddress, recipient string, value *big.Int, dayKey string) (*models.PolicyDecision, error) {
	walletAddress = utils.NormalizeAddress(walletAddress)
	recipient = utils.NormalizeAddress(recipient)

	decision, err := s.evaluate(ctx, walletAddress, recipient, value, dayKey)
	if err != nil {
		return nil, err
	}

	metrics.PolicyEvaluations.WithLabelValues(decision.ReasonCode).Inc()
	return decision, nil
}

func (s *PolicyService) evaluate(ctx context.Context, walletAddress, recipient string, value *big.Int, dayKey string) (*models.PolicyDecision, error) {
	policy, err := s.repo.GetPolicy(ctx, walletAddress)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.PolicyDecision{Allowed: true, ReasonCode: models.ReasonNoPolicy}, nil
		}
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	if !policy.Enabled {
		return &models.PolicyDecision{Allowed: true, ReasonCode: models.ReasonPolicyDisabled}, nil
	}

	// 黑名单永远优先于白名单
	if policy.BlockedRecipients.Contains(recipient) {
		return &models.PolicyDecision{Allowed: false, ReasonCode: models.ReasonBlockedRecipient}, nil
	}

	if len(policy.AllowedRecipients) > 0 && !policy.AllowedRecipients.Contains(recipient) {
		return &models.PolicyDecision{Allowed: false, ReasonCode: models.ReasonRecipientNotAllowed}, nil
	}

	if policy.PerTxLimit != nil {
		limit, err := utils.ParseBaseUnits(*policy.PerTxLimit)
		if err != nil {
			return nil, fmt.Errorf("stored perTxLimit is invalid: %w", err)
		}
		if value.Cmp(limit) > 0 {
			return &models.PolicyDecision{Allowed: false, ReasonCode: models.ReasonPerTxCapExceeded, RequiresApproval: true}, nil
		}
	}

	if policy.DailyLimit != nil {
		limit, err := utils.ParseBaseUnits(*policy.DailyLimit)
		if err != nil {
			return nil, fmt.Errorf("stored dailyLimit is invalid: %w", err)
		}

		spent, err := s.getSpent(ctx, walletAddress, dayKey)
		if err != nil {
			return nil, err
		}

		projected := new(big.Int).Add(spent, value)
		if projected.Cmp(limit) > 0 {
			return &models.PolicyDecision{Allowed: false, ReasonCode: models.ReasonDailyCapExceeded, RequiresApproval: true}, nil
		}
	}

	return &models.PolicyDecision{Allowed: true, ReasonCode: models.ReasonAllowed}, nil
}

// EvaluateAndCommit 在 wallet:day 锁内评估策略，通过后执行 commit，
// commit 成功才记录额度。评估与记录处于同一临界区：两笔并发转账（即使
// 目标链不同）无法同时基于同一份已用额度通过日上限复核。
// commit 失败的错误原样返回，此时不占用任何额度。
func (s *PolicyService) EvaluateAndCommit(ctx context.Context, walletAddress, recipient string, value *big.Int, timestamp time.Time, commit func() error) (*models.PolicyDecision, error) {
	walletAddress = utils.NormalizeAddress(walletAddress)
	recipient = utils.NormalizeAddress(recipient)
	dayKey := DayKey(timestamp)

	lock := s.getOrCreateDayLock(walletAddress, dayKey)
	lock.Lock()
	defer lock.Unlock()

	decision, err := s.evaluate(ctx, walletAddress, recipient, value, dayKey)
	if err != nil {
		return nil, err
	}
	metrics.PolicyEvaluations.WithLabelValues(decision.ReasonCode).Inc()
	if !decision.Allowed {
		return decision, nil
	}

	if err := commit(); err != nil {
		return nil, err
	}

	if err := s.recordLocked(ctx, walletAddress, value, dayKey); err != nil {
		// commit 已生效，记录失败只能告警，不能让调用方误以为操作没发生
		log.Printf("⚠️ [Policy] Failed to record usage for %s after commit: %v", walletAddress, err)
	}
	return decision, nil
}

// Record 在广播成功后记录当日已用额度
// 只能在链上广播确实成功后调用，策略评估通过本身不占用额度
func (s *PolicyService) Record(ctx context.Context, walletAddress string, value *big.Int, timestamp time.Time) error {
	walletAddress = utils.NormalizeAddress(walletAddress)
	dayKey := DayKey(timestamp)

	// wallet:day 级别串行化读改写，避免并发转账双计或漏计
	lock := s.getOrCreateDayLock(walletAddress, dayKey)
	lock.Lock()
	defer lock.Unlock()

	return s.recordLocked(ctx, walletAddress, value, dayKey)
}

// recordLocked 调用方必须已持有对应的 wallet:day 锁
func (s *PolicyService) recordLocked(ctx context.Context, walletAddress string, value *big.Int, dayKey string) error {
	spent, err := s.getSpent(ctx, walletAddress, dayKey)
	if err != nil {
		return err
	}

	total := new(big.Int).Add(spent, value)
	usage := &models.PolicyUsage{
		WalletAddress: walletAddress,
		DayKey:        dayKey,
		Spent:         total.String(),
	}
	if err := s.repo.SaveUsage(ctx, usage); err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}

	log.Printf("📋 [Policy] Usage recorded: wallet=%s, day=%s, spent=%s", walletAddress, dayKey, total.String())
	return nil
}

// GetUsage 获取钱包某日已用额度
func (s *PolicyService) GetUsage(ctx context.Context, walletAddress, dayKey string) (*big.Int, error) {
	return s.getSpent(ctx, utils.NormalizeAddress(walletAddress), dayKey)
}

func (s *PolicyService) getSpent(ctx context.Context, walletAddress, dayKey string) (*big.Int, error) {
	usage, err := s.repo.GetUsage(ctx, walletAddress, dayKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	spent, err := utils.ParseBaseUnits(usage.Spent)
	if err != nil {
		return nil, fmt.Errorf("stored usage is invalid: %w", err)
	}
	return spent, nil
}
