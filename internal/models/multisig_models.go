package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MultisigScope 多签配置的适用范围
type MultisigScope string

const (
	MultisigScopeAll            MultisigScope = "all"             // 所有出账
	MultisigScopeAboveAmount    MultisigScope = "above_amount"    // 金额达到阈值
	MultisigScopeSpecificChains MultisigScope = "specific_chains" // 指定链
)

// MultisigProposalStatus 多签提案状态
type MultisigProposalStatus string

const (
	ProposalStatusPending  MultisigProposalStatus = "pending"  // 等待签名
	ProposalStatusExecuted MultisigProposalStatus = "executed" // 已执行
)

// MultisigAction 提案动作类型
type MultisigAction string

const (
	MultisigActionSend  MultisigAction = "send"
	MultisigActionSweep MultisigAction = "sweep"
)

// MultisigConfig 钱包级 N-of-M 配置。不变量：1 <= threshold <= len(signers)。
type MultisigConfig struct {
	ID            string        `json:"id" gorm:"primaryKey"` // UUID
	WalletAddress string        `json:"wallet_address" gorm:"size:66;not null;index"`
	Signers       StringList    `json:"signers" gorm:"type:jsonb;not null"`
	Threshold     int           `json:"threshold" gorm:"not null"`
	Scope         MultisigScope `json:"scope" gorm:"size:20;not null;default:'all'"`
	ScopeAmount   *string       `json:"scope_amount"`                    // base units, scope=above_amount
	ScopeChains   StringList    `json:"scope_chains" gorm:"type:jsonb"` // scope=specific_chains
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SignerApproval 单个签名人的签署记录
type SignerApproval struct {
	SignerID string    `json:"signer_id"`
	At       time.Time `json:"at"`
}

// SignerApprovals stored as JSONB; duplicates from the same signer are never appended
type SignerApprovals []SignerApproval

func (a SignerApprovals) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *SignerApprovals) Scan(value interface{}) error {
	if value == nil {
		*a = SignerApprovals{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported type for SignerApprovals: %T", value)
	}
}

// Has reports whether the signer already approved.
func (a SignerApprovals) Has(signerID string) bool {
	for _, s := range a {
		if s.SignerID == signerID {
			return true
		}
	}
	return false
}

// MultisigProposal 出账提案。仅当配置 scope 命中本次操作时才会创建。
type MultisigProposal struct {
	ID            string                 `json:"id" gorm:"primaryKey"` // UUID
	WalletAddress string                 `json:"wallet_address" gorm:"size:66;not null;index"`
	ConfigID      string                 `json:"config_id" gorm:"not null;index"`
	Action        MultisigAction         `json:"action" gorm:"size:10;not null"`
	Payload       string                 `json:"payload" gorm:"type:jsonb;not null"` // 转账参数快照 JSON
	Approvals     SignerApprovals        `json:"approvals" gorm:"type:jsonb"`
	Threshold     int                    `json:"threshold" gorm:"not null"` // 创建时冻结，配置后续变更不影响在途提案
	Status        MultisigProposalStatus `json:"status" gorm:"size:16;not null;default:'pending';index"`
	ProposedBy    string                 `json:"proposed_by" gorm:"size:66"`

	// 执行结果
	TxHash     string     `json:"tx_hash" gorm:"size:66"`
	ExecutedAt *time.Time `json:"executed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanExecute reports whether approvals meet the frozen threshold.
func (p *MultisigProposal) CanExecute() bool {
	return len(p.Approvals) >= p.Threshold
}
