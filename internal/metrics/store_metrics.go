package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Источники выдачи кода скидки.
const (
	IssueSourceAuto   = "auto"
	IssueSourceManual = "manual"
)

// Результаты попытки погасить код скидки.
const (
	RedemptionApplied     = "applied"
	RedemptionUnavailable = "unavailable"
	RedemptionInvalid     = "invalid"
)

// StoreMetrics содержит метрики агрегата Store.
// Все методы безопасно вызывать на nil-получателе.
type StoreMetrics struct {
	// Заказы
	ordersCreated    prometheus.Counter
	revenue          prometheus.Counter
	orderTotal       prometheus.Histogram
	checkoutDuration prometheus.Histogram

	// Скидки
	codesIssued      *prometheus.CounterVec
	redemptions      *prometheus.CounterVec
	discountGranted  prometheus.Counter
	unusedCodesGauge prometheus.Gauge

	// Корзины
	cartOperations *prometheus.CounterVec
	activeCarts    prometheus.Gauge
}

// NewStoreMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegisterer регистрирует метрики в заданном registerer (удобно для тестов).
func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders created at checkout",
		}),
		revenue: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_revenue_total",
			Help: "Sum of order totals after discounts",
		}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_total",
			Help:    "Distribution of order totals after discounts",
			Buckets: []float64{0, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout inside the store aggregate",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		codesIssued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_discount_codes_issued_total",
			Help: "Total number of discount codes issued grouped by source",
		}, []string{"source"}),
		redemptions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_discount_redemptions_total",
			Help: "Discount redemption attempts grouped by result",
		}, []string{"result"}),
		discountGranted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_discount_granted_total",
			Help: "Sum of discount amounts granted",
		}),
		unusedCodesGauge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_discount_codes_unused",
			Help: "Number of issued discount codes that are not used yet",
		}),
		cartOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Cart mutations grouped by operation and result",
		}, []string{"op", "result"}),
		activeCarts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_carts",
			Help: "Number of carts known to the store",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated учитывает оформленный заказ и его итоговую сумму.
func (m *StoreMetrics) RecordOrderCreated(total decimal.Decimal) {
	if m == nil {
		return
	}
	value := total.InexactFloat64()
	m.ordersCreated.Inc()
	m.revenue.Add(value)
	m.orderTotal.Observe(value)
}

// RecordCheckoutDuration записывает время оформления заказа.
func (m *StoreMetrics) RecordCheckoutDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCodeIssued учитывает выдачу кода скидки.
func (m *StoreMetrics) RecordCodeIssued(source string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(source).Inc()
}

// RecordRedemption учитывает попытку погасить код и, при успехе, сумму скидки.
func (m *StoreMetrics) RecordRedemption(result string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
	if result == RedemptionApplied {
		m.discountGranted.Add(amount.InexactFloat64())
	}
}

// SetUnusedCodes выставляет число непогашенных кодов.
func (m *StoreMetrics) SetUnusedCodes(n int) {
	if m == nil {
		return
	}
	m.unusedCodesGauge.Set(float64(n))
}

// RecordCartOperation учитывает изменение корзины.
func (m *StoreMetrics) RecordCartOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cartOperations.WithLabelValues(op, result).Inc()
}

// SetCarts выставляет количество корзин в памяти.
func (m *StoreMetrics) SetCarts(n int) {
	if m == nil {
		return
	}
	m.activeCarts.Set(float64(n))
}
