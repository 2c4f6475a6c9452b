package events

import (
	"fmt"
	"log"
	"sync"
	"time"

	"agentpay-backend/internal/clients"
	"agentpay-backend/internal/config"
	"agentpay-backend/internal/models"
)

var (
	natsClient *clients.NATSClient
	natsOnce   sync.Once
)

// InitNATSServices 初始化NATS服务
func InitNATSServices() error {
	var initErr error
	natsOnce.Do(func() {
		if config.AppConfig == nil || config.AppConfig.NATS.URL == "" {
			log.Println("NATS not configured, skipping initialization")
			return
		}

		client, err := clients.NewNATSClient(config.AppConfig.NATS.URL)
		if err != nil {
			initErr = fmt.Errorf("failed to create NATS client: %w", err)
			return
		}

		natsClient = client
		log.Printf("✅ NATS client initialized successfully")
	})

	return initErr
}

// Client 获取全局NATS客户端（未配置时返回nil）
func Client() *clients.NATSClient {
	return natsClient
}

// CloseNATS 关闭NATS连接
func CloseNATS() {
	if natsClient != nil {
		natsClient.Close()
		natsClient = nil
	}
}

// TransactionEvent 链上交易状态变更事件
type TransactionEvent struct {
	TxID        string    `json:"tx_id"`
	Hash        string    `json:"hash"`
	Chain       string    `json:"chain"`
	State       string    `json:"state"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// ApprovalEvent 审批状态变更事件
type ApprovalEvent struct {
	ApprovalID string    `json:"approval_id"`
	Status     string    `json:"status"`
	Wallet     string    `json:"wallet"`
	Chain      string    `json:"chain"`
	Value      string    `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProposalEvent 多签提案事件
type ProposalEvent struct {
	ProposalID string    `json:"proposal_id"`
	Wallet     string    `json:"wallet"`
	Action     string    `json:"action"`
	Approvals  int       `json:"approvals"`
	Threshold  int       `json:"threshold"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishTransactionState 发布交易状态变更事件，NATS未配置时静默跳过
func PublishTransactionState(tx *models.Transaction) {
	if natsClient == nil {
		return
	}

	subject := fmt.Sprintf("agentpay.%s.tx.%s", tx.Chain, tx.State)
	event := TransactionEvent{
		TxID:        tx.ID,
		Hash:        tx.Hash,
		Chain:       tx.Chain,
		State:       string(tx.State),
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Value:       tx.Value,
		Timestamp:   time.Now(),
	}

	if err := natsClient.Publish(subject, event); err != nil {
		log.Printf("⚠️ Failed to publish transaction event to %s: %v", subject, err)
	}
}

// PublishApprovalStatus 发布审批事件
func PublishApprovalStatus(approval *models.ApprovalRequest) {
	if natsClient == nil {
		return
	}

	subject := fmt.Sprintf("agentpay.approvals.%s", approval.Status)
	event := ApprovalEvent{
		ApprovalID: approval.ID,
		Status:     string(approval.Status),
		Wallet:     approval.FromAddress,
		Chain:      approval.Chain,
		Value:      approval.Value,
		Timestamp:  time.Now(),
	}

	if err := natsClient.Publish(subject, event); err != nil {
		log.Printf("⚠️ Failed to publish approval event to %s: %v", subject, err)
	}
}

// PublishProposalStatus 发布多签提案事件
func PublishProposalStatus(proposal *models.MultisigProposal) {
	if natsClient == nil {
		return
	}

	subject := fmt.Sprintf("agentpay.proposals.%s", proposal.Status)
	event := ProposalEvent{
		ProposalID: proposal.ID,
		Wallet:     proposal.WalletAddress,
		Action:     string(proposal.Action),
		Approvals:  len(proposal.Approvals),
		Threshold:  proposal.Threshold,
		Status:     string(proposal.Status),
		Timestamp:  time.Now(),
	}

	if err := natsClient.Publish(subject, event); err != nil {
		log.Printf("⚠️ Failed to publish proposal event to %s: %v", subject, err)
	}
}
