package models

import (
	"time"
)

// Webhook 事件类型常量
const (
	EventTxSubmitted      = "transaction.submitted"
	EventTxPending        = "transaction.pending"
	EventTxConfirmed      = "transaction.confirmed"
	EventTxFailed         = "transaction.failed"
	EventApprovalCreated  = "approval.created"
	EventApprovalApproved = "approval.approved"
	EventApprovalRejected = "approval.rejected"
	EventProposalCreated  = "proposal.created"
	EventProposalApproved = "proposal.approved"
	EventProposalExecuted = "proposal.executed"
)

// WebhookSubscription 订阅记录。EventFilters 为空表示接收全部事件。
type WebhookSubscription struct {
	ID            string     `json:"id" gorm:"primaryKey"` // UUID
	URL           string     `json:"url" gorm:"not null"`
	SigningSecret string     `json:"-" gorm:"not null"` // 不出现在任何响应里
	EventFilters  StringList `json:"event_filters" gorm:"type:jsonb"`
	ChainFilter   string     `json:"chain_filter" gorm:"size:32"` // 空表示全部链
	MaxRetries    int        `json:"max_retries" gorm:"default:3"`
	BaseBackoffMs int        `json:"base_backoff_ms" gorm:"default:1000"`
	Active        bool       `json:"active" gorm:"default:true;index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Matches reports whether the subscription wants this event.
func (s *WebhookSubscription) Matches(eventType, chain string) bool {
	if !s.Active {
		return false
	}
	if len(s.EventFilters) > 0 && !s.EventFilters.Contains(eventType) {
		return false
	}
	if s.ChainFilter != "" && chain != "" && s.ChainFilter != chain {
		return false
	}
	return true
}

// WebhookDeadLetter 重试耗尽后的死信记录，留待人工排查
type WebhookDeadLetter struct {
	ID             string    `json:"id" gorm:"primaryKey"` // UUID
	SubscriptionID string    `json:"subscription_id" gorm:"index"`
	URL            string    `json:"url" gorm:"not null"`
	EventType      string    `json:"event_type" gorm:"size:64;not null;index"`
	Payload        string    `json:"payload" gorm:"type:jsonb"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}
