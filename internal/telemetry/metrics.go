package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 指标在 init 中注册，通过 /metrics 暴露：
//   - trader_cycles_total{outcome}   每轮结束原因
//   - trader_cycle_seconds           每轮耗时
//   - trader_orders_total{kind}      buy | sell | remargin | abandon | orphan
//   - trader_gain_ratio              自上次重置以来的收益
//   - trader_frozen                  walk-away 熔断标志
var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Wake cycles by outcome",
		},
		[]string{"outcome"},
	)

	mtxCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trader_cycle_seconds",
			Help:    "Wall time of one wake cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders placed or replaced by kind",
		},
		[]string{"kind"},
	)

	mtxGain = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_gain_ratio",
			Help: "Portfolio gain since the last reset",
		},
	)

	mtxFrozen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_frozen",
			Help: "1 while the walk-away breaker holds trading",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxCycles, mtxCycleSeconds)
	prometheus.MustRegister(mtxOrders)
	prometheus.MustRegister(mtxGain, mtxFrozen)
}

func ObserveCycle(outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	mtxCycles.WithLabelValues(outcome).Inc()
	mtxCycleSeconds.Observe(d.Seconds())
}

// ObserveOrders n 为 0 时不产生新的标签序列
func ObserveOrders(kind string, n int) {
	if n <= 0 {
		return
	}
	mtxOrders.WithLabelValues(kind).Add(float64(n))
}

func SetGain(gain float64, frozen bool) {
	mtxGain.Set(gain)
	if frozen {
		mtxFrozen.Set(1)
	} else {
		mtxFrozen.Set(0)
	}
}
