package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn stages recorded by the orchestrator.
const (
	StageAssemble  = "assemble"
	StageInvoke    = "invoke"
	StageSummarize = "summarize"
	StagePersist   = "persist"
	StageRetain    = "retain"
	StageTotal     = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns           *prometheus.CounterVec
	MemoryErrors    *prometheus.CounterVec
	SummariesPruned prometheus.Counter
	ActiveBuffers   prometheus.Gauge
	BufferEvictions *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	KnowledgeCache  *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled turns by agent and outcome.",
		}, []string{"agent", "outcome"}),
		MemoryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_errors_total",
			Help:      "Swallowed memory-path failures by operation.",
		}, []string{"op"}),
		SummariesPruned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_pruned_total",
			Help:      "Summary documents deleted by retention.",
		}),
		ActiveBuffers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_buffers",
			Help:      "Number of live recent-turn buffers.",
		}),
		BufferEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Recent-turn buffers dropped by reason.",
		}, []string{"reason"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Turn stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
		KnowledgeCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_cache_total",
			Help:      "Knowledge search cache lookups by result.",
		}, []string{"result"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		stages: newStageWindow(512),
	}
}

// ObserveStage records a stage duration in the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.observe(stage, ms)
}

// ObserveIndicator counts a notable turn event, such as a degraded read.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.count(name)
}

// SnapshotStages summarizes the recent stage samples.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
