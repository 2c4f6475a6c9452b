package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agentpay-backend/internal/events"
	"agentpay-backend/internal/metrics"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/utils"
)

// TransferSpec 一笔逻辑转账的完整描述，用于计算幂等指纹
type TransferSpec struct {
	From          string
	To            string
	Value         string
	Data          string
	Chain         string
	Nonce         string
	PolicyID      string
	PolicyVersion int
}

// ApprovalService 审批协调服务
// 将转账请求转换为幂等、带 TTL 的审批记录，跟踪单方或多方签署
type ApprovalService struct {
	repo        repository.ApprovalRepository
	tokenSecret []byte
	ttl         time.Duration
	createLocks sync.Map // 同一指纹并发创建收敛到一条记录：id -> *sync.Mutex
	push        *WebSocketPushService
	webhooks    *WebhookService

	stopChan      chan struct{}
	wg            sync.WaitGroup
	sweepInterval time.Duration
}

// NewApprovalService 创建审批服务
func NewApprovalService(repo repository.ApprovalRepository, tokenSecret string, ttl, sweepInterval time.Duration) *ApprovalService {
	return &ApprovalService{
		repo:          repo,
		tokenSecret:   []byte(tokenSecret),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// SetPushService 注入 websocket 推送服务
func (s *ApprovalService) SetPushService(push *WebSocketPushService) {
	s.push = push
}

// SetWebhookService 注入 webhook 通知服务
func (s *ApprovalService) SetWebhookService(webhooks *WebhookService) {
	s.webhooks = webhooks
}

// canonicalTransfer 规范化序列化形式：字段名按字典序、地址统一小写
// 改变字段顺序或大小写会静默破坏幂等性
type canonicalTransfer struct {
	Chain         string `json:"chain"`
	Data          string `json:"data"`
	From          string `json:"from"`
	Nonce         string `json:"nonce"`
	PolicyID      string `json:"policyId"`
	PolicyVersion int    `json:"policyVersion"`
	To            string `json:"to"`
	Value         string `json:"value"`
}

// DeterministicID 由转账内容推导稳定的审批请求 ID
func DeterministicID(spec TransferSpec) string {
	canonical := canonicalTransfer{
		Chain:         spec.Chain,
		Data:          spec.Data,
		From:          utils.NormalizeAddress(spec.From),
		Nonce:         spec.Nonce,
		PolicyID:      utils.NormalizeAddress(spec.PolicyID),
		PolicyVersion: spec.PolicyVersion,
		To:            utils.NormalizeAddress(spec.To),
		Value:         spec.Value,
	}
	data, _ := json.Marshal(canonical)
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// signToken 计算审批记录的完整性令牌：HMAC(secret, id.expiry.payload)
func (s *ApprovalService) signToken(id string, expiresAt time.Time, spec TransferSpec) string {
	payload, _ := json.Marshal(canonicalTransfer{
		Chain:         spec.Chain,
		Data:          spec.Data,
		From:          utils.NormalizeAddress(spec.From),
		Nonce:         spec.Nonce,
		PolicyID:      utils.NormalizeAddress(spec.PolicyID),
		PolicyVersion: spec.PolicyVersion,
		To:            utils.NormalizeAddress(spec.To),
		Value:         spec.Value,
	})

	mac := hmac.New(sha256.New, s.tokenSecret)
	mac.Write([]byte(fmt.Sprintf("%s.%d.%s", id, expiresAt.Unix(), payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create 创建审批请求，按转账指纹幂等
// 重复提交同一笔逻辑转账返回既有记录；已过期/已拒绝的指纹不可复用
func (s *ApprovalService) Create(ctx context.Context, spec TransferSpec, requestedBy string) (*models.ApprovalRequest, error) {
	id := DeterministicID(spec)

	// 同一指纹的并发创建必须收敛到一条记录
	lockAny, _ := s.createLocks.LoadOrStore(id, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	if existing != nil {
		existing = s.applyLazyExpiry(ctx, existing)
		switch existing.Status {
		case models.ApprovalStatusExpired, models.ApprovalStatusRejected:
			return nil, fmt.Errorf("%w: approval %s is %s", ErrApprovalNotActionable, id, existing.Status)
		default:
			log.Printf("🔄 [Approval] Idempotent create: returning existing request %s (status=%s)", id, existing.Status)
			return existing, nil
		}
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	approval := &models.ApprovalRequest{
		ID:          id,
		Token:       s.signToken(id, expiresAt, spec),
		Status:      models.ApprovalStatusPending,
		FromAddress: utils.NormalizeAddress(spec.From),
		ToAddress:   utils.NormalizeAddress(spec.To),
		Value:       spec.Value,
		Data:        spec.Data,
		Chain:       spec.Chain,
		Nonce:       spec.Nonce,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	if err := s.repo.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	metrics.ApprovalsCreated.Inc()
	events.PublishApprovalStatus(approval)
	if s.push != nil {
		s.push.PushApprovalUpdate(approval)
	}
	log.Printf("✅ [Approval] Request created: id=%s, wallet=%s, value=%s, expires=%s",
		id, approval.FromAddress, approval.Value, expiresAt.Format(time.RFC3339))
	return approval, nil
}

// Get 按 ID 获取审批请求，读取时惰性处理过期
func (s *ApprovalService) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	approval, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return s.applyLazyExpiry(ctx, approval), nil
}

// applyLazyExpiry pending 记录超过 TTL 后在任意读取时翻转为 expired
func (s *ApprovalService) applyLazyExpiry(ctx context.Context, approval *models.ApprovalRequest) *models.ApprovalRequest {
	if approval.Status != models.ApprovalStatusPending {
		return approval
	}
	if time.Now().Before(approval.ExpiresAt) {
		return approval
	}

	approval.Status = models.ApprovalStatusExpired
	if err := s.repo.Update(ctx, approval); err != nil {
		log.Printf("⚠️ [Approval] Failed to persist lazy expiry for %s: %v", approval.ID, err)
	} else {
		metrics.ApprovalsExpired.Inc()
		log.Printf("⏳ [Approval] Request expired: id=%s", approval.ID)
	}
	return approval
}

// VerifyToken 校验裁决方出示的完整性令牌
// 令牌随创建响应和 webhook 下发，防止仅凭可预测 ID 伪造裁决
func (s *ApprovalService) VerifyToken(approval *models.ApprovalRequest, token string) error {
	if !hmac.Equal([]byte(approval.Token), []byte(token)) {
		return ErrApprovalTokenMismatch
	}
	return nil
}

// Decide 审批或拒绝请求，决定是一次性的
func (s *ApprovalService) Decide(ctx context.Context, id string, status models.ApprovalStatus, actor string) (*models.ApprovalRequest, error) {
	if status != models.ApprovalStatusApproved && status != models.ApprovalStatusRejected {
		return nil, fmt.Errorf("invalid decision status: %s", status)
	}

	approval, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if approval.Status == models.ApprovalStatusExpired {
		return nil, ErrApprovalExpired
	}
	if approval.Decided() {
		return nil, ErrApprovalAlreadyDecided
	}

	now := time.Now()
	approval.Status = status
	approval.DecidedBy = actor
	approval.DecidedAt = &now
	approval.DecisionStatus = status

	if err := s.repo.Update(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	metrics.ApprovalDecisions.WithLabelValues(string(status)).Inc()
	events.PublishApprovalStatus(approval)
	if s.push != nil {
		s.push.PushApprovalUpdate(approval)
	}
	if s.webhooks != nil {
		eventType := models.EventApprovalApproved
		if status == models.ApprovalStatusRejected {
			eventType = models.EventApprovalRejected
		}
		s.webhooks.Emit(ctx, WebhookEvent{Type: eventType, Chain: approval.Chain, Payload: approval})
	}
	log.Printf("✅ [Approval] Decision recorded: id=%s, status=%s, actor=%s", id, status, actor)
	return approval, nil
}

// RecordExecution 记录已审批转账的执行结果，决定之后唯一可写的字段
func (s *ApprovalService) RecordExecution(ctx context.Context, id, txHash, execError string) error {
	approval, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if approval.Status != models.ApprovalStatusApproved {
		return ErrApprovalNotApproved
	}
	if approval.Executed() {
		return fmt.Errorf("approval %s already has an execution result", id)
	}

	now := time.Now()
	approval.ExecTxHash = txHash
	approval.ExecError = execError
	approval.ExecutedAt = &now

	if err := s.repo.Update(ctx, approval); err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	log.Printf("📋 [Approval] Execution recorded: id=%s, txHash=%s", id, txHash)
	return nil
}

// ListRecent 列出最近的审批请求
func (s *ApprovalService) ListRecent(ctx context.Context, limit int) ([]*models.ApprovalRequest, error) {
	approvals, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, approval := range approvals {
		approvals[i] = s.applyLazyExpiry(ctx, approval)
	}
	return approvals, nil
}

// Start 启动过期清扫后台任务
func (s *ApprovalService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		log.Printf("🚀 [Approval] Expiry sweeper started: interval=%v", s.sweepInterval)
		for {
			select {
			case <-ticker.C:
				s.sweepExpired()
			case <-s.stopChan:
				log.Printf("🛑 [Approval] Expiry sweeper stopped")
				return
			}
		}
	}()
}

// Stop 停止过期清扫后台任务
func (s *ApprovalService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// sweepExpired 批量翻转已超时的 pending 记录
func (s *ApprovalService) sweepExpired() {
	ctx := context.Background()
	approvals, err := s.repo.ListRecent(ctx, 0)
	if err != nil {
		log.Printf("⚠️ [Approval] Sweep failed to list requests: %v", err)
		return
	}

	for _, approval := range approvals {
		if approval.Status == models.ApprovalStatusPending && time.Now().After(approval.ExpiresAt) {
			s.applyLazyExpiry(ctx, approval)
		}
	}
}
