package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
// 所有方法对 nil 接收者安全，未启用监控时直接跳过。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced  *prometheus.CounterVec
	orderFailures *prometheus.CounterVec
	ordersCancel  prometheus.Counter

	// 策略指标
	strategyErrors *prometheus.CounterVec
	strategyTicks  *prometheus.CounterVec
	strategies     *prometheus.GaugeVec

	// 行情指标
	quotesDropped prometheus.Counter
	wsConnections prometheus.Counter
	wsDisconnects prometheus.Counter

	// 网关指标
	gatewayRequests *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "strat",
		Subsystem: "",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		ordersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_placed_total",
			Help:      "策略下单总数",
		}, []string{"strategy_type", "side"}),
		orderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_failures_total",
			Help:      "下单失败总数",
		}, []string{"strategy_type"}),
		ordersCancel: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_canceled_total",
			Help:      "撤单总数",
		}),

		strategyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "strategy_errors_total",
			Help:      "策略错误总数（按错误类型）",
		}, []string{"strategy_type", "kind"}),
		strategyTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "strategy_ticks_total",
			Help:      "策略处理的事件总数",
		}, []string{"strategy_type"}),
		strategies: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "strategies",
			Help:      "各状态下的策略实例数",
		}, []string{"state"}),

		quotesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quotes_dropped_total",
			Help:      "订阅缓冲满时丢弃的报价数",
		}),
		wsConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_connections_total",
			Help:      "WebSocket连接次数",
		}),
		wsDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_disconnects_total",
			Help:      "WebSocket断开次数",
		}),

		gatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gateway_requests_total",
			Help:      "网关请求总数",
		}, []string{"op"}),
		gatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gateway_errors_total",
			Help:      "网关错误总数",
		}, []string{"op"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gateway_latency_seconds",
			Help:      "网关请求延迟（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"op"}),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(strategyType, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(strategyType, side).Inc()
}

func (m *Monitor) RecordOrderFailure(strategyType string) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(strategyType).Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCancel.Inc()
}

// 策略相关方法
func (m *Monitor) RecordStrategyError(strategyType, kind string) {
	if m == nil {
		return
	}
	m.strategyErrors.WithLabelValues(strategyType, kind).Inc()
}

func (m *Monitor) RecordTick(strategyType string) {
	if m == nil {
		return
	}
	m.strategyTicks.WithLabelValues(strategyType).Inc()
}

// SetStrategyStates 用最新的状态计数覆盖 gauge
func (m *Monitor) SetStrategyStates(counts map[string]int) {
	if m == nil {
		return
	}
	m.strategies.Reset()
	for state, n := range counts {
		m.strategies.WithLabelValues(state).Set(float64(n))
	}
}

// 行情相关方法
func (m *Monitor) RecordQuoteDropped() {
	if m == nil {
		return
	}
	m.quotesDropped.Inc()
}

func (m *Monitor) RecordWSConnection() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	if m == nil {
		return
	}
	m.wsDisconnects.Inc()
}

// RecordGatewayCall 记录一次网关调用的次数、错误与耗时
func (m *Monitor) RecordGatewayCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(op).Inc()
	if err != nil {
		m.gatewayErrors.WithLabelValues(op).Inc()
	}
	m.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
