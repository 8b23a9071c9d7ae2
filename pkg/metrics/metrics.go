package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DepositDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "deposit_detected_total",
			Help:      "Total number of inbound transfers first seen on chain.",
		},
		[]string{"currency"},
	)

	DepositCreditedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "deposit_credited_total",
			Help:      "Total number of deposits credited to the ledger.",
		},
		[]string{"currency"},
	)

	WithdrawTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "withdraw_total",
			Help:      "Total number of withdrawal requests by terminal status.",
		},
		[]string{"currency", "status"},
	)

	SweepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "sweep_total",
			Help:      "Total number of display-address sweeps by result.",
		},
		[]string{"currency", "result"},
	)

	ChainPollErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "chain_poll_error_total",
			Help:      "Total number of failed per-address poll checks.",
		},
		[]string{"currency"},
	)

	// 账本聚合余额与池子链上余额的偏差，对账任务定期刷新
	// 这个值漂移说明两套事实脱节了，必须告警
	PoolDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "custody",
			Name:      "pool_drift",
			Help:      "Ledger aggregate minus on-chain pool balance, per currency.",
		},
		[]string{"currency"},
	)

	HoldLeakTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "hold_leak_total",
			Help:      "Release-after-broadcast-failure errors. Any increment needs paging.",
		},
		[]string{"currency"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		DepositDetectedTotal,
		DepositCreditedTotal,
		WithdrawTotal,
		SweepTotal,
		ChainPollErrorTotal,
		PoolDrift,
		HoldLeakTotal,
	)
}
