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
	"agentpay-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SendRequest 一次转账请求
type SendRequest struct {
	WalletAddress string
	To            string
	Value         string // base units
	Data          string // hex, 可为空
	Chain         string
	Nonce         string // 客户端幂等 nonce，变更后生成新的审批指纹
	RequestedBy   string
}

// SendOutcome 结算管线的出口分支
type SendOutcome string

const (
	OutcomeBroadcast        SendOutcome = "broadcast"
	OutcomeApprovalRequired SendOutcome = "approval_required"
	OutcomeProposalCreated  SendOutcome = "proposal_created"
)

// SendResult 结算结果，按 Outcome 取对应字段
type SendResult struct {
	Outcome     SendOutcome             `json:"outcome"`
	Decision    *models.PolicyDecision  `json:"decision,omitempty"`
	Transaction *models.Transaction     `json:"transaction,omitempty"`
	Approval    *models.ApprovalRequest `json:"approval,omitempty"`
	Proposal    *models.MultisigProposal `json:"proposal,omitempty"`
}

// SettlementOptions 管线默认护栏参数
type SettlementOptions struct {
	DustFloor   *big.Int
	FeeCap      *big.Int
	GasGuardBps int
}

// SettlementService 结算管线
// 编排策略评估、审批/多签路由、preflight 与广播，是唯一触达链上写操作的入口
type SettlementService struct {
	wallets   repository.WalletRepository
	txRepo    repository.TransactionRepository
	policy    *PolicyService
	approvals *ApprovalService
	multisig  *MultisigService
	preflight *PreflightService
	registry  *chain.Registry
	webhooks  *WebhookService
	options   SettlementOptions
	push      *WebSocketPushService

	broadcastLocks map[string]*sync.Mutex // 广播互斥锁：wallet:chain -> mutex
	lockMutex      sync.RWMutex
}

// NewSettlementService 创建结算管线
func NewSettlementService(
	wallets repository.WalletRepository,
	txRepo repository.TransactionRepository,
	policy *PolicyService,
	approvals *ApprovalService,
	multisig *MultisigService,
	preflight *PreflightService,
	registry *chain.Registry,
	webhooks *WebhookService,
	options SettlementOptions,
) *SettlementService {
	return &SettlementService{
		wallets:        wallets,
		txRepo:         txRepo,
		policy:         policy,
		approvals:      approvals,
		multisig:       multisig,
		preflight:      preflight,
		registry:       registry,
		webhooks:       webhooks,
		options:        options,
		broadcastLocks: make(map[string]*sync.Mutex),
	}
}

// SetPushService 注入 websocket 推送服务
func (s *SettlementService) SetPushService(push *WebSocketPushService) {
	s.push = push
}

// getOrCreateBroadcastLock 获取或创建 wallet:chain 级别的广播锁
func (s *SettlementService) getOrCreateBroadcastLock(walletAddress, chainName string) *sync.Mutex {
	key := fmt.Sprintf("%s:%s", walletAddress, chainName)

	s.lockMutex.RLock()
	lock, exists := s.broadcastLocks[key]
	s.lockMutex.RUnlock()

	if exists {
		return lock
	}

	s.lockMutex.Lock()
	defer s.lockMutex.Unlock()

	// 双重检查
	if lock, exists := s.broadcastLocks[key]; exists {
		return lock
	}

	lock = &sync.Mutex{}
	s.broadcastLocks[key] = lock
	return lock
}

// Send 处理一次转账请求，按策略决定直接广播、进入审批或创建多签提案
func (s *SettlementService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	req.WalletAddress = utils.NormalizeAddress(req.WalletAddress)
	req.To = utils.NormalizeAddress(req.To)

	value, err := utils.ParseBaseUnits(req.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}

	wallet, err := s.lookupWallet(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if req.Chain == "" {
		req.Chain = wallet.Chain
	}

	// 多签钱包先走门限闸口，scope 不命中则继续普通管线
	if wallet.SecurityMode == models.SecurityModeMultisig {
		proposal, routed, err := s.maybePropose(ctx, wallet, models.MultisigActionSend, req)
		if err != nil {
			return nil, err
		}
		if routed {
			return &SendResult{Outcome: OutcomeProposalCreated, Proposal: proposal}, nil
		}
	}

	// 策略评估，广播前还会在互斥区内复核
	decision, err := s.policy.Evaluate(ctx, req.WalletAddress, req.To, value, DayKey(time.Now()))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if !decision.RequiresApproval {
			return nil, &PolicyDeniedError{ReasonCode: decision.ReasonCode}
		}
		approval, err := s.routeToApproval(ctx, req)
		if err != nil {
			return nil, err
		}
		return &SendResult{Outcome: OutcomeApprovalRequired, Decision: decision, Approval: approval}, nil
	}

	pre, err := s.preflight.Simulate(ctx, req.WalletAddress, req.To, value, req.Chain, s.defaultGuardrails())
	if err != nil {
		return nil, err
	}

	tx, err := s.broadcast(ctx, broadcastInput{
		wallet:      req.WalletAddress,
		to:          req.To,
		value:       value,
		data:        req.Data,
		chain:       req.Chain,
		requestedBy: req.RequestedBy,
		preflight:   pre,
		checkPolicy: true,
	})
	if err != nil {
		return nil, err
	}

	return &SendResult{Outcome: OutcomeBroadcast, Decision: decision, Transaction: tx}, nil
}

// Sweep 清空钱包余额到目标地址
func (s *SettlementService) Sweep(ctx context.Context, walletAddress, to, chainName, requestedBy string) (*SendResult, error) {
	walletAddress = utils.NormalizeAddress(walletAddress)
	to = utils.NormalizeAddress(to)

	wallet, err := s.lookupWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if chainName == "" {
		chainName = wallet.Chain
	}

	pre, err := s.preflight.SimulateSweep(ctx, walletAddress, to, chainName, s.defaultGuardrails())
	if err != nil {
		return nil, err
	}

	if wallet.SecurityMode == models.SecurityModeMultisig {
		req := SendRequest{
			WalletAddress: walletAddress,
			To:            to,
			Value:         pre.Value.String(),
			Chain:         chainName,
			RequestedBy:   requestedBy,
		}
		proposal, routed, err := s.maybePropose(ctx, wallet, models.MultisigActionSweep, req)
		if err != nil {
			return nil, err
		}
		if routed {
			return &SendResult{Outcome: OutcomeProposalCreated, Proposal: proposal}, nil
		}
	}

	tx, err := s.broadcast(ctx, broadcastInput{
		wallet:      walletAddress,
		to:          to,
		value:       pre.Value,
		chain:       chainName,
		requestedBy: requestedBy,
		preflight:   pre,
		checkPolicy: true,
	})
	if err != nil {
		return nil, err
	}

	return &SendResult{Outcome: OutcomeBroadcast, Transaction: tx}, nil
}

// Preflight 以管线默认护栏执行一次只读模拟，不广播
func (s *SettlementService) Preflight(ctx context.Context, walletAddress, to, valueStr, chainName string) (*PreflightResult, error) {
	walletAddress = utils.NormalizeAddress(walletAddress)

	value, err := utils.ParseBaseUnits(valueStr)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}

	wallet, err := s.lookupWallet(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	if chainName == "" {
		chainName = wallet.Chain
	}

	return s.preflight.Simulate(ctx, walletAddress, utils.NormalizeAddress(to), value, chainName, s.defaultGuardrails())
}

// ExecuteApproved 广播一笔已审批的转账
// 审批通过意味着上限检查已由人工裁决覆盖，不再重新评估策略，但仍记录额度
func (s *SettlementService) ExecuteApproved(ctx context.Context, approvalID string) (*models.Transaction, error) {
	approval, err := s.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalStatusApproved {
		return nil, ErrApprovalNotApproved
	}
	if approval.Executed() {
		return nil, fmt.Errorf("approval %s already executed", approvalID)
	}

	value, err := utils.ParseBaseUnits(approval.Value)
	if err != nil {
		return nil, fmt.Errorf("stored approval value is invalid: %w", err)
	}

	pre, err := s.preflight.Simulate(ctx, approval.FromAddress, approval.ToAddress, value, approval.Chain, s.defaultGuardrails())
	if err != nil {
		return nil, err
	}

	tx, err := s.broadcast(ctx, broadcastInput{
		wallet:      approval.FromAddress,
		to:          approval.ToAddress,
		value:       value,
		data:        approval.Data,
		chain:       approval.Chain,
		requestedBy: approval.RequestedBy,
		approvalID:  approvalID,
		preflight:   pre,
		checkPolicy: false,
	})
	if err != nil {
		if recordErr := s.approvals.RecordExecution(ctx, approvalID, "", err.Error()); recordErr != nil {
			log.Printf("⚠️ [Settlement] Failed to record execution error for approval %s: %v", approvalID, recordErr)
		}
		return nil, err
	}

	if err := s.approvals.RecordExecution(ctx, approvalID, tx.Hash, ""); err != nil {
		log.Printf("⚠️ [Settlement] Failed to record execution for approval %s: %v", approvalID, err)
	}
	return tx, nil
}

// ExecuteProposal 执行已达门限的多签提案
func (s *SettlementService) ExecuteProposal(ctx context.Context, proposalID string) (*models.Transaction, error) {
	proposal, err := s.multisig.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.multisig.EnsureExecutable(proposal); err != nil {
		return nil, err
	}

	payload, err := s.multisig.DecodePayload(proposal)
	if err != nil {
		return nil, err
	}

	var tx *models.Transaction
	switch proposal.Action {
	case models.MultisigActionSweep:
		pre, err := s.preflight.SimulateSweep(ctx, payload.From, payload.To, payload.Chain, s.defaultGuardrails())
		if err != nil {
			return nil, err
		}
		tx, err = s.broadcast(ctx, broadcastInput{
			wallet:      payload.From,
			to:          payload.To,
			value:       pre.Value,
			chain:       payload.Chain,
			requestedBy: proposal.ProposedBy,
			proposalID:  proposalID,
			preflight:   pre,
			checkPolicy: true,
		})
		if err != nil {
			return nil, err
		}
	case models.MultisigActionSend:
		value, err := utils.ParseBaseUnits(payload.Value)
		if err != nil {
			return nil, fmt.Errorf("stored proposal value is invalid: %w", err)
		}
		pre, err := s.preflight.Simulate(ctx, payload.From, payload.To, value, payload.Chain, s.defaultGuardrails())
		if err != nil {
			return nil, err
		}
		tx, err = s.broadcast(ctx, broadcastInput{
			wallet:      payload.From,
			to:          payload.To,
			value:       value,
			data:        payload.Data,
			chain:       payload.Chain,
			requestedBy: proposal.ProposedBy,
			proposalID:  proposalID,
			preflight:   pre,
			checkPolicy: true,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown proposal action: %s", proposal.Action)
	}

	if err := s.multisig.MarkExecuted(ctx, proposal, tx.Hash); err != nil {
		log.Printf("⚠️ [Settlement] Broadcast succeeded but failed to mark proposal %s executed: %v", proposalID, err)
	}
	return tx, nil
}

// maybePropose scope 命中时创建提案，否则放行继续普通管线
func (s *SettlementService) maybePropose(ctx context.Context, wallet *models.Wallet, action models.MultisigAction, req SendRequest) (*models.MultisigProposal, bool, error) {
	config, err := s.multisig.GetConfigForWallet(ctx, wallet.Address)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	matches, err := s.multisig.ScopeMatches(config, req.Chain, req.Value)
	if err != nil {
		return nil, false, err
	}
	if !matches {
		return nil, false, nil
	}

	proposal, err := s.multisig.CreateProposal(ctx, config, action, ProposalPayload{
		From:  wallet.Address,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
		Chain: req.Chain,
	}, req.RequestedBy)
	if err != nil {
		return nil, false, err
	}

	s.webhooks.Emit(ctx, WebhookEvent{Type: models.EventProposalCreated, Chain: req.Chain, Payload: proposal})
	return proposal, true, nil
}

// CreateApproval 手动为一笔转账创建审批请求
// 与超限自动路由共用同一指纹推导，重复提交幂等收敛
func (s *SettlementService) CreateApproval(ctx context.Context, req SendRequest) (*models.ApprovalRequest, error) {
	req.WalletAddress = utils.NormalizeAddress(req.WalletAddress)
	req.To = utils.NormalizeAddress(req.To)

	if _, err := utils.ParseBaseUnits(req.Value); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}

	wallet, err := s.lookupWallet(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if req.Chain == "" {
		req.Chain = wallet.Chain
	}

	return s.routeToApproval(ctx, req)
}

// routeToApproval 把超限转账转入审批流程
func (s *SettlementService) routeToApproval(ctx context.Context, req SendRequest) (*models.ApprovalRequest, error) {
	policyVersion := 0
	if policy, err := s.policy.GetPolicy(ctx, req.WalletAddress); err == nil {
		policyVersion = policy.Version
	}

	approval, err := s.approvals.Create(ctx, TransferSpec{
		From:          req.WalletAddress,
		To:            req.To,
		Value:         req.Value,
		Data:          req.Data,
		Chain:         req.Chain,
		Nonce:         req.Nonce,
		PolicyID:      req.WalletAddress,
		PolicyVersion: policyVersion,
	}, req.RequestedBy)
	if err != nil {
		return nil, err
	}

	s.webhooks.Emit(ctx, WebhookEvent{Type: models.EventApprovalCreated, Chain: req.Chain, Payload: approval})
	return approval, nil
}

type broadcastInput struct {
	wallet      string
	to          string
	value       *big.Int
	data        string
	chain       string
	requestedBy string
	approvalID  string
	proposalID  string
	preflight   *PreflightResult
	checkPolicy bool
}

// broadcast 在 wallet:chain 互斥区内完成最终复核与链上广播
// wallet:chain 互斥保证两笔并发转账不会基于同样的余额假设同时上链；
// 日上限的复核与记录则交给策略服务的 wallet:day 锁，评估、广播、记录
// 处于同一临界区，跨链并发转账也无法同时通过上限复核
func (s *SettlementService) broadcast(ctx context.Context, in broadcastInput) (*models.Transaction, error) {
	lock := s.getOrCreateBroadcastLock(in.wallet, in.chain)
	lock.Lock()
	defer lock.Unlock()

	if !in.checkPolicy {
		// 审批通过的转账：上限检查已由人工裁决覆盖，额度照常记录
		tx, err := s.submit(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := s.policy.Record(ctx, in.wallet, in.value, tx.SubmittedAt); err != nil {
			log.Printf("⚠️ [Settlement] Failed to record policy usage for %s: %v", in.wallet, err)
		}
		return tx, nil
	}

	var tx *models.Transaction
	decision, err := s.policy.EvaluateAndCommit(ctx, in.wallet, in.to, in.value, time.Now(), func() error {
		var submitErr error
		tx, submitErr = s.submit(ctx, in)
		return submitErr
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &PolicyDeniedError{ReasonCode: decision.ReasonCode, RequiresApproval: decision.RequiresApproval}
	}
	return tx, nil
}

// submit 执行链上广播并持久化交易记录，不做任何策略判断
func (s *SettlementService) submit(ctx context.Context, in broadcastInput) (*models.Transaction, error) {
	adapter, err := s.registry.Resolve(in.chain, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain adapter: %w", err)
	}

	start := time.Now()
	hash, err := adapter.SendTransaction(ctx, chain.TransferInput{
		From:  in.wallet,
		To:    in.to,
		Value: in.value,
		Data:  common.FromHex(in.data),
	})
	metrics.BroadcastDuration.WithLabelValues(in.chain).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TransactionsBroadcast.WithLabelValues(in.chain, "failure").Inc()
		// 广播失败绝不自动重试，重试可能造成重复上链
		return nil, fmt.Errorf("broadcast failed: %w", err)
	}
	metrics.TransactionsBroadcast.WithLabelValues(in.chain, "success").Inc()

	submittedAt := time.Now()
	tx := &models.Transaction{
		ID:           uuid.New().String(),
		Hash:         hash,
		FromAddress:  in.wallet,
		ToAddress:    in.to,
		Value:        in.value.String(),
		Data:         in.data,
		Chain:        in.chain,
		State:        models.TxStateSubmitted,
		EstimatedFee: in.preflight.EstimatedFee.String(),
		ApprovalID:   in.approvalID,
		ProposalID:   in.proposalID,
		RequestedBy:  in.requestedBy,
		SubmittedAt:  submittedAt,
		History: models.StateHistory{
			{From: "", To: models.TxStateSubmitted, At: submittedAt},
		},
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		// 交易已上链，记录失败只能告警，绝不能让调用方误以为没广播
		log.Printf("❌ [Settlement] Broadcast succeeded but failed to persist tx %s: %v", hash, err)
		return nil, fmt.Errorf("broadcast succeeded (hash=%s) but failed to persist record: %w", hash, err)
	}

	log.Printf("✅ [Settlement] Transaction broadcast: hash=%s, wallet=%s, to=%s, value=%s, chain=%s",
		hash, in.wallet, in.to, in.value, in.chain)

	events.PublishTransactionState(tx)
	if s.push != nil {
		s.push.PushTransactionUpdate(tx)
	}
	s.webhooks.Emit(ctx, WebhookEvent{Type: models.EventTxSubmitted, Chain: in.chain, Payload: tx})
	return tx, nil
}

// lookupWallet 查找钱包
func (s *SettlementService) lookupWallet(ctx context.Context, address string) (*models.Wallet, error) {
	wallet, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// defaultGuardrails 管线默认护栏
func (s *SettlementService) defaultGuardrails() Guardrails {
	return Guardrails{
		DustFloor:   s.options.DustFloor,
		MaxFeeCap:   s.options.FeeCap,
		GasGuardBps: s.options.GasGuardBps,
	}
}
