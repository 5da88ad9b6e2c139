package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "storefront"

// Metrics はアプリのPrometheusメトリクス一式。
// テストで何度作っても衝突しないよう、専用のRegistryに登録する。
type Metrics struct {
	Registry *prometheus.Registry

	ordersCreated    prometheus.Counter
	checkoutFailures *prometheus.CounterVec
	rollbackFailures prometheus.Counter
	ordersCanceled   prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_created_total",
			Help: "Orders created from carts.",
		}),
		checkoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkout_failures_total",
			Help: "Failed order creations by error kind.",
		}, []string{"reason"}),
		rollbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_rollback_failures_total",
			Help: "Stock compensations that could not be applied.",
		}),
		ordersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_canceled_total",
			Help: "Orders canceled with stock restored.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		m.ordersCreated,
		m.checkoutFailures,
		m.rollbackFailures,
		m.ordersCanceled,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) OrderCreated()                { m.ordersCreated.Inc() }
func (m *Metrics) CheckoutFailed(reason string) { m.checkoutFailures.WithLabelValues(reason).Inc() }
func (m *Metrics) StockRollbackFailed()         { m.rollbackFailures.Inc() }
func (m *Metrics) OrderCanceled()               { m.ordersCanceled.Inc() }
