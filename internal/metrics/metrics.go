// Package metrics 提供Prometheus指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contractqa"

// Metrics 系统的全部指标
// 所有方法在nil接收者上为空操作
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 文档处理
	DocumentsProcessedTotal *prometheus.CounterVec
	StageDuration           *prometheus.HistogramVec
	ChunksCreatedTotal      prometheus.Counter
	ChunkWarningsTotal      *prometheus.CounterVec
	EmbeddingDuration       prometheus.Histogram

	// 检索与问答
	SearchDuration  prometheus.Histogram
	QARequestsTotal *prometheus.CounterVec
	IndexedChunks   prometheus.Gauge
	QueueTasksTotal *prometheus.CounterVec
}

// NewMetrics 在指定注册器上创建指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.DocumentsProcessedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Total number of processed documents by outcome",
		},
		[]string{"status"},
	)

	m.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_stage_duration_seconds",
			Help:      "Duration of document processing stages in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	m.ChunksCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_created_total",
			Help:      "Total number of chunks created",
		},
	)

	m.ChunkWarningsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_warnings_total",
			Help:      "Total number of chunking diagnostics by reason",
		},
		[]string{"reason"},
	)

	m.EmbeddingDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Duration of embedding requests in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of hybrid searches in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.QARequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qa_requests_total",
			Help:      "Total number of answered questions by cache outcome",
		},
		[]string{"cache"},
	)

	m.IndexedChunks = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Number of chunks currently in the vector index",
		},
	)

	m.QueueTasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Total number of queue tasks by type and outcome",
		},
		[]string{"type", "status"},
	)

	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default 返回注册在全局注册器上的指标，只创建一次
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveHTTP 记录一次HTTP请求
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveStage 记录处理阶段耗时
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDocument 记录文档处理结果
func (m *Metrics) RecordDocument(status string, chunks int) {
	if m == nil {
		return
	}
	m.DocumentsProcessedTotal.WithLabelValues(status).Inc()
	m.ChunksCreatedTotal.Add(float64(chunks))
}

// RecordWarning 记录一条分块诊断
func (m *Metrics) RecordWarning(reason string) {
	if m == nil {
		return
	}
	m.ChunkWarningsTotal.WithLabelValues(reason).Inc()
}

// ObserveEmbedding 记录嵌入耗时
func (m *Metrics) ObserveEmbedding(d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingDuration.Observe(d.Seconds())
}

// ObserveSearch 记录检索耗时
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
}

// RecordQA 记录问答请求，hit表示命中缓存
func (m *Metrics) RecordQA(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.QARequestsTotal.WithLabelValues(label).Inc()
}

// SetIndexedChunks 设置向量索引中的分块数
func (m *Metrics) SetIndexedChunks(n int) {
	if m == nil {
		return
	}
	m.IndexedChunks.Set(float64(n))
}

// RecordTask 记录队列任务结果
func (m *Metrics) RecordTask(taskType, status string) {
	if m == nil {
		return
	}
	m.QueueTasksTotal.WithLabelValues(taskType, status).Inc()
}
