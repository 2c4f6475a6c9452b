package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WalletSecurityMode 钱包安全模式
type WalletSecurityMode string

const (
	SecurityModeStandard WalletSecurityMode = "standard" // 单方审批
	SecurityModeMultisig WalletSecurityMode = "multisig" // 门限多签审批
)

// Wallet 托管钱包记录（由创建/导入流程写入，结算管道只读）
type Wallet struct {
	Address      string             `json:"address" gorm:"primaryKey;size:66"`
	Chain        string             `json:"chain" gorm:"size:32;not null;index"`
	SecurityMode WalletSecurityMode `json:"security_mode" gorm:"size:16;not null;default:'standard'"`
	Label        string             `json:"label" gorm:"size:128"`
	AgentID      string             `json:"agent_id" gorm:"size:66;index"` // 归属的 agent 身份
	Imported     bool               `json:"imported" gorm:"default:false"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// TransactionState 链上交易生命周期状态
type TransactionState string

const (
	TxStateSubmitted TransactionState = "submitted" // 已广播
	TxStatePending   TransactionState = "pending"   // 等待回执
	TxStateConfirmed TransactionState = "confirmed" // 已确认
	TxStateFailed    TransactionState = "failed"    // 链上回执失败
)

// stateRank forward-only ordering: submitted < pending < {confirmed, failed}
var stateRank = map[TransactionState]int{
	TxStateSubmitted: 0,
	TxStatePending:   1,
	TxStateConfirmed: 2,
	TxStateFailed:    2,
}

// Rank returns the monotonic ordering rank of a state; unknown states rank -1.
func (s TransactionState) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// IsFinal reports whether the state is terminal.
func (s TransactionState) IsFinal() bool {
	return s == TxStateConfirmed || s == TxStateFailed
}

// StateTransition 状态历史条目（审计用，只追加）
type StateTransition struct {
	From TransactionState `json:"from"`
	To   TransactionState `json:"to"`
	At   time.Time        `json:"at"`
}

// StateHistory stored as JSONB, append-only
type StateHistory []StateTransition

func (h StateHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *StateHistory) Scan(value interface{}) error {
	if value == nil {
		*h = StateHistory{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return fmt.Errorf("unsupported type for StateHistory: %T", value)
	}
}

// Transaction 广播后的转账记录，仅由生命周期追踪器改写状态
type Transaction struct {
	ID          string           `json:"id" gorm:"primaryKey"` // UUID
	Hash        string           `json:"hash" gorm:"size:66;uniqueIndex;not null"`
	FromAddress string           `json:"from" gorm:"size:66;not null;index"`
	ToAddress   string           `json:"to" gorm:"size:66;not null;index"`
	Value       string           `json:"value" gorm:"not null"` // base units
	Data        string           `json:"data" gorm:"type:text"` // hex calldata
	Chain       string           `json:"chain" gorm:"size:32;not null;index"`
	State       TransactionState `json:"state" gorm:"size:16;not null;index"`

	// 估算与实际费用，实际费用在拿到回执后补记
	EstimatedFee string `json:"estimated_fee"`         // base units, pre-broadcast
	ActualFee    string `json:"actual_fee"`            // gasUsed × effectiveGasPrice
	GasUsed      uint64 `json:"gas_used"`              // from the receipt, 0 until confirmed
	BlockNumber  uint64 `json:"block_number"`          // from the receipt, 0 until confirmed
	FailReason   string `json:"fail_reason,omitempty"` // set on failed state only
	ApprovalID   string `json:"approval_id" gorm:"size:66;index"`
	ProposalID   string `json:"proposal_id" gorm:"size:40;index"`
	RequestedBy  string `json:"requested_by" gorm:"size:66"`

	// lifecycle timestamps：每个状态首次进入的时间
	SubmittedAt time.Time  `json:"submitted_at"`
	PendingAt   *time.Time `json:"pending_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	FailedAt    *time.Time `json:"failed_at"`

	History StateHistory `json:"state_history" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringList JSON-encoded string slice column (recipient sets, signer sets)
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// Contains 大小写不敏感成员判断（地址统一小写存储）
func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}
