// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。同时实现 bus.Observer、collaboration.Observer、
// llm.Observer、worker.Observer 与 database.StatsObserver。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 消息总线指标
	busMessagesTotal *prometheus.CounterVec

	// 协作指标
	collaborationsTotal   *prometheus.CounterVec
	collaborationDuration *prometheus.HistogramVec

	// 补全服务指标
	completionsTotal   *prometheus.CounterVec
	completionDuration prometheus.Histogram

	// Agent 指标
	agentStateTransitions *prometheus.CounterVec
	dedupSuppressed       prometheus.Counter

	// 数据库连接池指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbWaitCount        prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 消息总线指标
	c.busMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Total number of bus messages by direction and protocol kind",
		},
		[]string{"direction", "kind"}, // direction: in, out
	)

	// 协作指标
	c.collaborationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborations_total",
			Help:      "Total number of finished collaborations",
		},
		[]string{"mode", "outcome"}, // outcome: complete, timeout, empty
	)

	c.collaborationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaboration_duration_seconds",
			Help:      "Collaboration duration from start to synthesis",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// 补全服务指标
	c.completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Total number of completion requests",
		},
		[]string{"status"},
	)

	c.completionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Agent 指标
	c.agentStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"agent", "from", "to"},
	)

	c.dedupSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_suppressed_total",
			Help:      "Natural messages dropped as duplicates",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	})
	c.dbConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	})
	c.dbConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Number of database connections in use",
	})
	c.dbWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_wait_count",
		Help:      "Total number of connections waited for",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📨 总线与协作
// =============================================================================

// ObserveBusMessage 记录一条总线消息
func (c *Collector) ObserveBusMessage(direction, kind string) {
	c.busMessagesTotal.WithLabelValues(direction, kind).Inc()
}

// ObserveCollaboration 记录一次结束的协作
func (c *Collector) ObserveCollaboration(mode, outcome string, seconds float64) {
	c.collaborationsTotal.WithLabelValues(mode, outcome).Inc()
	c.collaborationDuration.WithLabelValues(mode).Observe(seconds)
}

// ObserveCompletion 记录一次补全请求
func (c *Collector) ObserveCompletion(status string, seconds float64) {
	c.completionsTotal.WithLabelValues(status).Inc()
	c.completionDuration.Observe(seconds)
}

// =============================================================================
// 🎭 Agent 指标记录
// =============================================================================

// RecordAgentStateTransition 记录 Agent 状态转换
func (c *Collector) RecordAgentStateTransition(agent string, from, to types.AgentStatus) {
	if from == "" {
		from = "none"
	}
	c.agentStateTransitions.WithLabelValues(agent, string(from), string(to)).Inc()
}

// ObserveDedupSuppressed 记录一条被去重丢弃的消息
func (c *Collector) ObserveDedupSuppressed() {
	c.dedupSuppressed.Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// ObserveDBPool 记录连接池快照
func (c *Collector) ObserveDBPool(stats sql.DBStats) {
	c.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	c.dbConnectionsIdle.Set(float64(stats.Idle))
	c.dbConnectionsInUse.Set(float64(stats.InUse))
	c.dbWaitCount.Set(float64(stats.WaitCount))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
