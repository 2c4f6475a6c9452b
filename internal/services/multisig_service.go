package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"agentpay-backend/internal/events"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/utils"

	"github.com/google/uuid"
)

// ProposalPayload 提案携带的待执行操作
type ProposalPayload struct {
	Action string `json:"action"`
	From   string `json:"from"`
	To     string `json:"to"`
	Value  string `json:"value"`
	Data   string `json:"data"`
	Chain  string `json:"chain"`
}

// MultisigService 多签门限服务
// 管理签署人配置与提案的 N-of-M 审批，执行编排由结算管线负责
type MultisigService struct {
	repo          repository.MultisigRepository
	proposalLocks sync.Map // 提案级别审批锁：proposalID -> *sync.Mutex
	push          *WebSocketPushService
	webhooks      *WebhookService
}

// NewMultisigService 创建多签服务
func NewMultisigService(repo repository.MultisigRepository) *MultisigService {
	return &MultisigService{repo: repo}
}

// SetPushService 注入 websocket 推送服务
func (s *MultisigService) SetPushService(push *WebSocketPushService) {
	s.push = push
}

// SetWebhookService 注入 webhook 通知服务
func (s *MultisigService) SetWebhookService(webhooks *WebhookService) {
	s.webhooks = webhooks
}

// emitWebhook 提案状态变更通知订阅方，chain 过滤取自提案载荷
func (s *MultisigService) emitWebhook(ctx context.Context, eventType string, proposal *models.MultisigProposal) {
	if s.webhooks == nil {
		return
	}
	chainName := ""
	if payload, err := s.DecodePayload(proposal); err == nil {
		chainName = payload.Chain
	}
	s.webhooks.Emit(ctx, WebhookEvent{Type: eventType, Chain: chainName, Payload: proposal})
}

// CreateConfig 创建钱包的多签配置
func (s *MultisigService) CreateConfig(ctx context.Context, config *models.MultisigConfig) (*models.MultisigConfig, error) {
	config.WalletAddress = utils.NormalizeAddress(config.WalletAddress)

	if len(config.Signers) == 0 {
		return nil, fmt.Errorf("at least one signer is required")
	}
	if config.Threshold < 1 || config.Threshold > len(config.Signers) {
		return nil, fmt.Errorf("%w: threshold=%d, signers=%d", ErrInvalidThreshold, config.Threshold, len(config.Signers))
	}

	switch config.Scope {
	case models.MultisigScopeAll:
	case models.MultisigScopeAboveAmount:
		if config.ScopeAmount == nil {
			return nil, fmt.Errorf("scope %s requires a threshold amount", config.Scope)
		}
		if _, err := utils.ParseBaseUnits(*config.ScopeAmount); err != nil {
			return nil, fmt.Errorf("invalid scope amount: %w", err)
		}
	case models.MultisigScopeSpecificChains:
		if len(config.ScopeChains) == 0 {
			return nil, fmt.Errorf("scope %s requires at least one chain", config.Scope)
		}
	default:
		return nil, fmt.Errorf("unknown scope: %s", config.Scope)
	}

	config.ID = uuid.New().String()
	if err := s.repo.CreateConfig(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to create multisig config: %w", err)
	}

	log.Printf("✅ [Multisig] Config created: wallet=%s, threshold=%d/%d, scope=%s",
		config.WalletAddress, config.Threshold, len(config.Signers), config.Scope)
	return config, nil
}

// GetConfigForWallet 获取钱包当前生效的多签配置
func (s *MultisigService) GetConfigForWallet(ctx context.Context, walletAddress string) (*models.MultisigConfig, error) {
	config, err := s.repo.GetConfigByWallet(ctx, utils.NormalizeAddress(walletAddress))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return config, nil
}

// ScopeMatches 判断配置的 scope 是否覆盖这次操作
// scope 不命中时转账直接放行，多签是按操作类别可选启用的
func (s *MultisigService) ScopeMatches(config *models.MultisigConfig, chainName, value string) (bool, error) {
	switch config.Scope {
	case models.MultisigScopeAll:
		return true, nil
	case models.MultisigScopeAboveAmount:
		if config.ScopeAmount == nil {
			return false, fmt.Errorf("config %s has scope %s without amount", config.ID, config.Scope)
		}
		threshold, err := utils.ParseBaseUnits(*config.ScopeAmount)
		if err != nil {
			return false, fmt.Errorf("stored scope amount is invalid: %w", err)
		}
		amount, err := utils.ParseBaseUnits(value)
		if err != nil {
			return false, fmt.Errorf("invalid value: %w", err)
		}
		return amount.Cmp(threshold) >= 0, nil
	case models.MultisigScopeSpecificChains:
		return config.ScopeChains.Contains(chainName), nil
	default:
		return false, fmt.Errorf("unknown scope: %s", config.Scope)
	}
}

// CreateProposal 为 scope 命中的操作创建提案
func (s *MultisigService) CreateProposal(ctx context.Context, config *models.MultisigConfig, action models.MultisigAction, payload ProposalPayload, proposedBy string) (*models.MultisigProposal, error) {
	payload.From = utils.NormalizeAddress(payload.From)
	payload.To = utils.NormalizeAddress(payload.To)
	payload.Action = string(action)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposal payload: %w", err)
	}

	proposal := &models.MultisigProposal{
		ID:            uuid.New().String(),
		WalletAddress: config.WalletAddress,
		ConfigID:      config.ID,
		Action:        action,
		Payload:       string(data),
		Approvals:     models.SignerApprovals{},
		Threshold:     config.Threshold, // 冻结创建时的门限，后续改配置不影响在途提案
		Status:        models.ProposalStatusPending,
		ProposedBy:    proposedBy,
	}

	if err := s.repo.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	events.PublishProposalStatus(proposal)
	if s.push != nil {
		s.push.PushProposalUpdate(proposal)
	}
	log.Printf("✅ [Multisig] Proposal created: id=%s, wallet=%s, action=%s, threshold=%d",
		proposal.ID, proposal.WalletAddress, action, proposal.Threshold)
	return proposal, nil
}

// Approve 签署人审批提案
// 重复审批是幂等空操作，不增加计数
func (s *MultisigService) Approve(ctx context.Context, proposalID, signerID string) (*models.MultisigProposal, error) {
	lockAny, _ := s.proposalLocks.LoadOrStore(proposalID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if proposal.Status == models.ProposalStatusExecuted {
		return nil, ErrProposalAlreadyExecuted
	}

	config, err := s.repo.GetConfig(ctx, proposal.ConfigID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	if !config.Signers.Contains(signerID) {
		return nil, fmt.Errorf("%w: signer=%s", ErrNotSigner, signerID)
	}

	if proposal.Approvals.Has(signerID) {
		log.Printf("🔄 [Multisig] Duplicate approval ignored: proposal=%s, signer=%s", proposalID, signerID)
		return proposal, nil
	}

	proposal.Approvals = append(proposal.Approvals, models.SignerApproval{
		SignerID: signerID,
		At:       time.Now(),
	})

	if err := s.repo.UpdateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	events.PublishProposalStatus(proposal)
	if s.push != nil {
		s.push.PushProposalUpdate(proposal)
	}
	s.emitWebhook(ctx, models.EventProposalApproved, proposal)
	log.Printf("✅ [Multisig] Proposal approved: id=%s, signer=%s, approvals=%d/%d",
		proposalID, signerID, len(proposal.Approvals), proposal.Threshold)
	return proposal, nil
}

// GetProposal 按 ID 获取提案
func (s *MultisigService) GetProposal(ctx context.Context, proposalID string) (*models.MultisigProposal, error) {
	proposal, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return proposal, nil
}

// ListProposals 按钱包和状态列出提案
func (s *MultisigService) ListProposals(ctx context.Context, walletAddress, status string, page, pageSize int) ([]*models.MultisigProposal, int64, error) {
	if walletAddress != "" {
		walletAddress = utils.NormalizeAddress(walletAddress)
	}
	return s.repo.ListProposals(ctx, walletAddress, status, page, pageSize)
}

// DecodePayload 解析提案携带的操作
func (s *MultisigService) DecodePayload(proposal *models.MultisigProposal) (*ProposalPayload, error) {
	var payload ProposalPayload
	if err := json.Unmarshal([]byte(proposal.Payload), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode proposal payload: %w", err)
	}
	return &payload, nil
}

// EnsureExecutable 校验提案可以执行：门限已达且仍处于 pending
func (s *MultisigService) EnsureExecutable(proposal *models.MultisigProposal) error {
	if proposal.Status == models.ProposalStatusExecuted {
		return ErrProposalAlreadyExecuted
	}
	if !proposal.CanExecute() {
		return fmt.Errorf("%w: approvals=%d, threshold=%d", ErrThresholdNotMet, len(proposal.Approvals), proposal.Threshold)
	}
	return nil
}

// MarkExecuted 记录提案执行结果并转为 executed
func (s *MultisigService) MarkExecuted(ctx context.Context, proposal *models.MultisigProposal, txHash string) error {
	now := time.Now()
	proposal.Status = models.ProposalStatusExecuted
	proposal.TxHash = txHash
	proposal.ExecutedAt = &now

	if err := s.repo.UpdateProposal(ctx, proposal); err != nil {
		return fmt.Errorf("failed to mark proposal executed: %w", err)
	}

	events.PublishProposalStatus(proposal)
	if s.push != nil {
		s.push.PushProposalUpdate(proposal)
	}
	s.emitWebhook(ctx, models.EventProposalExecuted, proposal)
	log.Printf("✅ [Multisig] Proposal executed: id=%s, txHash=%s", proposal.ID, txHash)
	return nil
}
