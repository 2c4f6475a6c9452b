package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 策略评估指标
	// ============================================
	PolicyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_policy_evaluations_total",
			Help: "Total number of policy evaluations",
		},
		[]string{"reason_code"},
	)

	// ============================================
	// 审批指标
	// ============================================
	ApprovalsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_approvals_created_total",
		Help: "Total number of approval requests created",
	})

	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_approval_decisions_total",
			Help: "Total number of approval decisions",
		},
		[]string{"decision"},
	)

	ApprovalsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_approvals_expired_total",
		Help: "Total number of approval requests expired by the sweeper",
	})

	// ============================================
	// 广播和生命周期指标
	// ============================================
	TransactionsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_transactions_broadcast_total",
			Help: "Total number of transactions broadcast",
		},
		[]string{"chain", "result"},
	)

	BroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_broadcast_duration_seconds",
			Help:    "Transaction broadcast duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	ReceiptPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_receipt_polls_total",
			Help: "Total number of receipt poll attempts",
		},
		[]string{"chain", "result"},
	)

	TransactionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_transactions_in_flight",
		Help: "Number of transactions awaiting confirmation",
	})

	// ============================================
	// Webhook 投递指标
	// ============================================
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"result"},
	)

	WebhookDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_webhook_dead_letters_total",
		Help: "Total number of webhook deliveries moved to the dead letter queue",
	})

	// ============================================
	// NATS 连接指标
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	// ============================================
	// 签名地址余额监控指标
	// ============================================
	SignerBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backend_signer_balance",
			Help: "Signer address balance in wei",
		},
		[]string{"chain", "address"},
	)
)
