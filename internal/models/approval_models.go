package models

import (
	"time"
)

// ApprovalStatus 审批请求状态
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"  // 等待裁决
	ApprovalStatusApproved ApprovalStatus = "approved" // 已批准，可执行
	ApprovalStatusRejected ApprovalStatus = "rejected" // 已拒绝，终态
	ApprovalStatusExpired  ApprovalStatus = "expired"  // TTL 过期，读取时惰性翻转
)

// ApprovalRequest 幂等审批记录。ID 由转账语义内容确定性派生：
// 同一逻辑转账的重复提交收敛到同一条记录。
type ApprovalRequest struct {
	ID    string         `json:"id" gorm:"primaryKey;size:64"` // sha256 hex of canonical payload
	Token string         `json:"token" gorm:"size:64"`         // HMAC over id+expiry+payload
	Status ApprovalStatus `json:"status" gorm:"size:16;not null;index"`

	// transfer 快照
	FromAddress string `json:"from" gorm:"size:66;not null;index"`
	ToAddress   string `json:"to" gorm:"size:66;not null"`
	Value       string `json:"value" gorm:"not null"` // base units
	Data        string `json:"data" gorm:"type:text"`
	Chain       string `json:"chain" gorm:"size:32;not null"`
	Nonce       string `json:"nonce" gorm:"size:64"` // 调用方递增以铸造新的逻辑请求

	RequestedBy string    `json:"requested_by" gorm:"size:66"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null;index"`

	// decision 只允许写一次
	DecidedBy      string         `json:"decided_by" gorm:"size:66"`
	DecidedAt      *time.Time     `json:"decided_at"`
	DecisionStatus ApprovalStatus `json:"decision_status" gorm:"size:16"`

	// execution 是裁决后唯一可写的字段组
	ExecTxHash string     `json:"exec_tx_hash" gorm:"size:66"`
	ExecError  string     `json:"exec_error" gorm:"type:text"`
	ExecutedAt *time.Time `json:"executed_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Decided reports whether a one-shot decision has been recorded.
func (a *ApprovalRequest) Decided() bool {
	return a.DecidedAt != nil
}

// Executed reports whether an execution result has been recorded.
func (a *ApprovalRequest) Executed() bool {
	return a.ExecutedAt != nil
}
