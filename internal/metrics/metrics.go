package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics счетчики пайплайна сигналов
type Metrics struct {
	SignalsTotal  *prometheus.CounterVec
	OrdersTotal   *prometheus.CounterVec
	ExecFailures  prometheus.Counter
	RetriesTotal  prometheus.Counter
	OpenPositions prometheus.Gauge
	DailyLossUSD  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		SignalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_executor_signals_total",
			Help: "Incoming signals by outcome",
		}, []string{"outcome"}),
		OrdersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_executor_orders_total",
			Help: "Submitted orders by role and status",
		}, []string{"role", "status"}),
		ExecFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signal_executor_execution_failures_total",
			Help: "Signals that failed during execution",
		}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signal_executor_order_retries_total",
			Help: "Order submissions retried after transient errors",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signal_executor_open_positions",
			Help: "Currently tracked open positions",
		}),
		DailyLossUSD: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signal_executor_daily_loss_usd",
			Help: "Realized loss for the current UTC day",
		}),
	}
}

// Serve поднимает /metrics на отдельном адресе
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
