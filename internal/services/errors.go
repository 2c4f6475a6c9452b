package services

import (
	"errors"
	"fmt"
)

// 服务层错误定义
// 每类管线拒绝都携带稳定的 reason code，调用方据此分支处理
var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrApprovalNotFound = errors.New("approval request not found")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrConfigNotFound   = errors.New("multisig config not found")

	ErrApprovalNotActionable  = errors.New("approval request is not actionable")
	ErrApprovalExpired        = errors.New("approval request has expired")
	ErrApprovalAlreadyDecided = errors.New("approval request already decided")
	ErrApprovalNotApproved    = errors.New("approval request is not approved")
	ErrApprovalTokenMismatch  = errors.New("approval token mismatch")

	ErrProposalAlreadyExecuted = errors.New("proposal already executed")
	ErrThresholdNotMet         = errors.New("approval threshold not met")
	ErrNotSigner               = errors.New("actor is not a signer of this wallet")
	ErrInvalidThreshold        = errors.New("threshold must be between 1 and the number of signers")

	ErrWalletNotMultisig = errors.New("wallet is not in multisig security mode")
)

// PolicyDeniedError 策略拒绝错误，携带 reason code 与审批指引
type PolicyDeniedError struct {
	ReasonCode       string
	RequiresApproval bool
}

func (e *PolicyDeniedError) Error() string {
	if e.RequiresApproval {
		return fmt.Sprintf("policy denied: %s (approval required)", e.ReasonCode)
	}
	return fmt.Sprintf("policy denied: %s", e.ReasonCode)
}

// Preflight guardrail reason codes
const (
	GuardrailInvalidRecipient    = "INVALID_RECIPIENT"
	GuardrailSelfSendBlocked     = "SELF_SEND_BLOCKED"
	GuardrailNonPositiveValue    = "NON_POSITIVE_VALUE"
	GuardrailBelowDustFloor      = "BELOW_DUST_FLOOR"
	GuardrailFeeCapExceeded      = "FEE_CAP_EXCEEDED"
	GuardrailGasPriceDrift       = "GAS_PRICE_DRIFT"
	GuardrailInsufficientBalance = "INSUFFICIENT_BALANCE"
)

// GuardrailError preflight 校验失败错误
// 对本次尝试是终态，但允许调用方用新的模拟结果重试
type GuardrailError struct {
	Code    string
	Message string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewGuardrailError 创建 preflight 校验错误
func NewGuardrailError(code, format string, args ...interface{}) *GuardrailError {
	return &GuardrailError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsGuardrailError 判断是否为 preflight 校验错误
func IsGuardrailError(err error) (*GuardrailError, bool) {
	var ge *GuardrailError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsPolicyDenied 判断是否为策略拒绝错误
func IsPolicyDenied(err error) (*PolicyDeniedError, bool) {
	var pe *PolicyDeniedError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
