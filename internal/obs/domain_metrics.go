package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentPushTotal counts STK push initiation outcomes.
	PaymentPushTotal *prometheus.CounterVec
	// PaymentCallbackTotal counts inbound payment callback processing outcomes.
	PaymentCallbackTotal *prometheus.CounterVec
	// StockMovementTotal counts recorded inventory movements by kind.
	StockMovementTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout attempts by result.
	CheckoutTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentPushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_push_total",
			Help:      "Count of STK push initiation outcomes.",
		}, []string{"result"})
		PaymentCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed payment callbacks by outcome.",
		}, []string{"result"})
		StockMovementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movement_total",
			Help:      "Count of recorded stock movements by kind.",
		}, []string{"kind"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by result.",
		}, []string{"result"})
		reg.MustRegister(PaymentPushTotal, PaymentCallbackTotal, StockMovementTotal, CheckoutTotal)
	})
}
