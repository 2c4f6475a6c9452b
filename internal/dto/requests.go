package dto

// ==================== Wallet DTOs ====================

// CreateWalletRequest 创建托管钱包请求
type CreateWalletRequest struct {
	Chain        string `json:"chain" binding:"required"`  // network name, e.g. "sepolia"
	SecurityMode string `json:"security_mode"`             // "standard" (default) or "multisig"
	Label        string `json:"label"`
}

// ImportWalletRequest 导入已有地址作为观察钱包
type ImportWalletRequest struct {
	Address      string `json:"address" binding:"required"`
	Chain        string `json:"chain" binding:"required"`
	SecurityMode string `json:"security_mode"`
	Label        string `json:"label"`
}

// ==================== Policy DTOs ====================

// SetPolicyRequest 整体覆盖钱包支出策略
// nil 的上限字段表示不限，不做字段级合并
type SetPolicyRequest struct {
	Enabled           bool     `json:"enabled"`
	PerTxLimit        *string  `json:"per_tx_limit"`     // base units decimal string
	DailyLimit        *string  `json:"daily_limit"`      // base units decimal string
	PerTxLimitEth     *string  `json:"per_tx_limit_eth"` // 18-decimals alternative, ignored when per_tx_limit set
	DailyLimitEth     *string  `json:"daily_limit_eth"`  // 18-decimals alternative, ignored when daily_limit set
	AllowedRecipients []string `json:"allowed_recipients"`
	BlockedRecipients []string `json:"blocked_recipients"`
}

// EvaluatePolicyRequest 干跑策略评估，不广播也不占用额度
type EvaluatePolicyRequest struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value" binding:"required"` // base units decimal string
}

// ==================== Transfer DTOs ====================

// SendRequest 发起一笔转账
type SendRequest struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value" binding:"required"` // base units decimal string
	Data  string `json:"data"`                     // hex calldata, optional
	Chain string `json:"chain"`                    // defaults to the wallet's home chain
	Nonce string `json:"nonce"`                    // client idempotency nonce
}

// SweepRequest 清空钱包余额
type SweepRequest struct {
	To    string `json:"to" binding:"required"`
	Chain string `json:"chain"`
}

// PreflightRequest 只模拟不广播
type PreflightRequest struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value" binding:"required"`
	Chain string `json:"chain"`
}

// ==================== Approval DTOs ====================

// CreateApprovalRequest 按转账指纹手动创建审批请求
// 同一逻辑转账重复提交收敛到同一条记录
type CreateApprovalRequest struct {
	To    string `json:"to" binding:"required"`
	Value string `json:"value" binding:"required"` // base units decimal string
	Data  string `json:"data"`
	Chain string `json:"chain"` // defaults to the wallet's home chain
	Nonce string `json:"nonce"` // bump to mint a new logical request
}

// DecideApprovalRequest 审批裁决请求
type DecideApprovalRequest struct {
	Decision string `json:"decision" binding:"required"` // "approved" or "rejected"
	Token    string `json:"token" binding:"required"`    // integrity token from the approval record
}

// ==================== Multisig DTOs ====================

// CreateMultisigConfigRequest 创建钱包多签配置
type CreateMultisigConfigRequest struct {
	Signers     []string `json:"signers" binding:"required"`
	Threshold   int      `json:"threshold" binding:"required"`
	Scope       string   `json:"scope"`        // "all" (default), "above_amount", "specific_chains"
	ScopeAmount *string  `json:"scope_amount"` // required when scope=above_amount
	ScopeChains []string `json:"scope_chains"` // required when scope=specific_chains
}

// ApproveProposalRequest 签署多签提案
type ApproveProposalRequest struct {
	SignerID string `json:"signer_id" binding:"required"`
}

// ==================== Webhook DTOs ====================

// CreateWebhookRequest 创建 webhook 订阅
type CreateWebhookRequest struct {
	URL           string   `json:"url" binding:"required"`
	Secret        string   `json:"secret" binding:"required"` // HMAC signing secret, never echoed back
	EventFilters  []string `json:"event_filters"`             // empty = all events
	ChainFilter   string   `json:"chain_filter"`              // empty = all chains
	MaxRetries    int      `json:"max_retries"`
	BaseBackoffMs int      `json:"base_backoff_ms"`
}
