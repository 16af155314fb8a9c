package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_orders_received_total",
			Help: "Total number of orders admitted by the matching engine",
		},
		[]string{"symbol", "side", "type"},
	)

	ordersRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_orders_rejected_total",
			Help: "Total number of orders that terminated without resting or filling",
		},
		[]string{"symbol", "reason"},
	)

	tradesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_trades_executed_total",
			Help: "Total number of trades executed",
		},
		[]string{"symbol"},
	)

	orderProcessSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matching_order_process_seconds",
			Help:    "Time from command admission to the end of matching",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12), // 1us to ~16s
		},
		[]string{"symbol"},
	)

	restingOrders = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matching_resting_orders",
			Help: "Current number of resting orders per side",
		},
		[]string{"symbol", "side"},
	)
)
