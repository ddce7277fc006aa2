// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	runsTotal           *prometheus.CounterVec
	runHops             prometheus.Histogram

	// 检查点指标
	checkpointSavesTotal *prometheus.CounterVec
	checkpointDuration   *prometheus.HistogramVec

	// Agent 指标
	agentMessagesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 工作流指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of workflow node executions",
		},
		[]string{"node", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Workflow node execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by outcome",
		},
		[]string{"status"}, // status: completed, failed, aborted, timeout
	)

	c.runHops = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_hops",
			Help:      "Number of node steps executed per workflow run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// 检查点指标
	c.checkpointSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint saves",
		},
		[]string{"status"},
	)

	c.checkpointDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Checkpoint save duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Agent 指标
	c.agentMessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_messages_total",
			Help:      "Total number of agent messages by outcome",
		},
		[]string{"agent", "type", "outcome"}, // outcome: delivered, processed, dropped, failed
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔄 工作流指标记录
// =============================================================================

// RecordNode 记录一次节点执行
func (c *Collector) RecordNode(node, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(node, status).Inc()
	c.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordRun 记录一次工作流运行
func (c *Collector) RecordRun(status string, hops int) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(status).Inc()
	c.runHops.Observe(float64(hops))
}

// =============================================================================
// 💾 检查点指标记录
// =============================================================================

// RecordCheckpoint 记录一次检查点写入
func (c *Collector) RecordCheckpoint(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.checkpointSavesTotal.WithLabelValues(status).Inc()
	c.checkpointDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 Agent 指标记录
// =============================================================================

// RecordAgentMessage 记录一条 Agent 消息的处理结果
func (c *Collector) RecordAgentMessage(agent, msgType, outcome string) {
	if c == nil {
		return
	}
	c.agentMessagesTotal.WithLabelValues(agent, msgType, outcome).Inc()
}
