package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics 积分账本指标
type LedgerMetrics struct {
	// 扣减相关指标
	DeductTotal     *prometheus.CounterVec // 扣减次数（按业务类型、结果）
	CreditsDeducted *prometheus.CounterVec // 扣减积分数（按业务类型）

	// 入账相关指标
	RefundTotal     prometheus.Counter
	CreditsRefunded prometheus.Counter
	PurchaseTotal   prometheus.Counter
	CreditsGranted  *prometheus.CounterVec // 发放积分数（按来源：initial/purchase）

	// 账本操作耗时
	OperationDuration *prometheus.HistogramVec

	// 用户锁
	LockAcquireTotal *prometheus.CounterVec // result: success/failed

	// outbox 投递
	OutboxSentTotal   prometheus.Counter
	OutboxFailedTotal prometheus.Counter

	// 对账
	ReconcileMismatch prometheus.Gauge // 最近一次对账发现的不一致账户数
}

// NewLedgerMetrics 创建指标并注册到 reg
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	factory := promauto.With(reg)

	return &LedgerMetrics{
		DeductTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "deduct_total",
				Help:      "Total number of credit deductions",
			},
			[]string{"service_type", "result"}, // result: success/insufficient/error/free/duplicate
		),
		CreditsDeducted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "credits_deducted_total",
				Help:      "Total credits deducted",
			},
			[]string{"service_type"},
		),
		RefundTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Subsystem: "ledger",
			Name:      "refund_total",
			Help:      "Total number of refunds",
		}),
		CreditsRefunded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Subsystem: "ledger",
			Name:      "credits_refunded_total",
			Help:      "Total credits refunded",
		}),
		PurchaseTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Subsystem: "ledger",
			Name:      "purchase_total",
			Help:      "Total number of purchase grants",
		}),
		CreditsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "credits_granted_total",
				Help:      "Total credits granted",
			},
			[]string{"source"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		LockAcquireTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "lock",
				Name:      "acquire_total",
				Help:      "Total number of user lock acquisition attempts",
			},
			[]string{"result"},
		),
		OutboxSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Subsystem: "outbox",
			Name:      "sent_total",
			Help:      "Total number of outbox messages published",
		}),
		OutboxFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Total number of outbox publish failures",
		}),
		ReconcileMismatch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "credit",
			Subsystem: "reconcile",
			Name:      "mismatch_accounts",
			Help:      "Accounts whose balance differs from the transaction sum in the last run",
		}),
	}
}
