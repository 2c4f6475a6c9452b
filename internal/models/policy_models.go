package models

import (
	"time"
)

// 策略判定的稳定 reason code（调用方以此编程分支，不解析文案）
const (
	ReasonNoPolicy            = "NO_POLICY"
	ReasonPolicyDisabled      = "POLICY_DISABLED"
	ReasonAllowed             = "ALLOWED"
	ReasonBlockedRecipient    = "BLOCKED_RECIPIENT"
	ReasonRecipientNotAllowed = "RECIPIENT_NOT_ALLOWED"
	ReasonPerTxCapExceeded    = "PER_TX_CAP_EXCEEDED"
	ReasonDailyCapExceeded    = "DAILY_CAP_EXCEEDED"
)

// Policy 钱包级支出策略。setPolicy 整体覆盖（不做字段合并），不会被自动删除。
type Policy struct {
	WalletAddress string `json:"wallet_address" gorm:"primaryKey;size:66"`
	Enabled       bool   `json:"enabled" gorm:"not null;default:true"`

	// base-unit decimal string；nil 表示不限
	PerTxLimit *string `json:"per_tx_limit"`
	DailyLimit *string `json:"daily_limit"`

	// blocked 永远先于 allowed 判定；allowed 为空表示不限制收款方
	AllowedRecipients StringList `json:"allowed_recipients" gorm:"type:jsonb"`
	BlockedRecipients StringList `json:"blocked_recipients" gorm:"type:jsonb"`

	Version   int       `json:"version" gorm:"default:1"` // 每次覆盖自增，参与审批指纹
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyUsage 按钱包按 UTC 日累计的已广播支出（base units）。
// 只在广播成功后追加，单日内单调不减，跨日不读。
type PolicyUsage struct {
	ID            uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	WalletAddress string    `json:"wallet_address" gorm:"size:66;not null;uniqueIndex:idx_wallet_day"`
	DayKey        string    `json:"day_key" gorm:"size:10;not null;uniqueIndex:idx_wallet_day"` // YYYY-MM-DD (UTC)
	Spent         string    `json:"spent" gorm:"not null;default:'0'"`                          // base units
	UpdatedAt     time.Time `json:"updated_at"`
}

// PolicyDecision evaluate 的判定结果
type PolicyDecision struct {
	Allowed          bool   `json:"allowed"`
	ReasonCode       string `json:"reason_code"`
	RequiresApproval bool   `json:"requires_approval"`
}
