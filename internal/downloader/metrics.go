package downloader

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tgdl"

// Metrics 下载引擎的 Prometheus 指标
// nil 接收者上的方法都是空操作，测试中可以不传
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	inProgress        prometheus.Gauge
	queueLength       prometheus.Gauge
	transferredBytes  prometheus.Counter
	transferDuration  *prometheus.HistogramVec
	fileSizeBytes     prometheus.Histogram
	organizerTriggers *prometheus.CounterVec
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Download requests by terminal outcome and reason.",
			},
			[]string{"outcome", "reason"},
		),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "in_progress",
			Help:      "Transfers currently running.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_length",
			Help:      "Admitted requests waiting for a free worker.",
		}),
		transferredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes written to destination files.",
		}),
		transferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "transfer_duration_seconds",
				Help:      "Duration of single file transfers.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"outcome"},
		),
		fileSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "file_size_bytes",
			Help:      "Sizes of completed files.",
			Buckets: []float64{
				1048576,    // 1MB
				10485760,   // 10MB
				104857600,  // 100MB
				524288000,  // 500MB
				1073741824, // 1GB
				2147483648, // 2GB
				4294967296, // 4GB
			},
		}),
		organizerTriggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "organizer_triggers_total",
				Help:      "Organizer scan triggers by status.",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.requestsTotal,
			m.inProgress,
			m.queueLength,
			m.transferredBytes,
			m.transferDuration,
			m.fileSizeBytes,
			m.organizerTriggers,
		)
	}

	return m
}

func (m *Metrics) observeOutcome(req *Request) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(string(req.State), string(req.Reason)).Inc()
}

func (m *Metrics) transferStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

func (m *Metrics) transferFinished(outcome State, seconds float64) {
	if m == nil {
		return
	}
	m.inProgress.Dec()
	m.transferDuration.WithLabelValues(string(outcome)).Observe(seconds)
}

func (m *Metrics) addBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.transferredBytes.Add(float64(n))
}

func (m *Metrics) observeFileSize(size int64) {
	if m == nil {
		return
	}
	m.fileSizeBytes.Observe(float64(size))
}

func (m *Metrics) setQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *Metrics) organizerTriggered(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.organizerTriggers.WithLabelValues(status).Inc()
}
