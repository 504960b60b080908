package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the questionnaire engine.
type Metrics struct {
	// Answers by flow and outcome ("accepted", "rejected", "closed")
	AnswersTotal *prometheus.CounterVec

	// Freeze attempts by flow and outcome ("frozen", "cannot_freeze", "already_frozen")
	FreezeTotal *prometheus.CounterVec

	PathComputeDuration prometheus.Histogram

	GraphLoadDuration prometheus.Histogram
	GraphCacheHits    prometheus.Counter
	GraphCacheMisses  prometheus.Counter

	// Sessions invalidated by the cleanup sweep, by flow
	SessionsInvalidated *prometheus.CounterVec

	// Completion hook executions by flow, kind and outcome ("ok", "failed", "abandoned")
	CompletionsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all questionnaire metrics registered.
func New() *Metrics {
	return &Metrics{
		AnswersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_questionnaire_answers_total",
			Help: "Total answers submitted by flow and outcome",
		}, []string{"flow", "outcome"}),

		FreezeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_questionnaire_freeze_total",
			Help: "Total freeze attempts by flow and outcome",
		}, []string{"flow", "outcome"}),

		PathComputeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_questionnaire_path_compute_duration_seconds",
			Help:    "Duration of session path computation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),

		GraphLoadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_questionnaire_graph_load_duration_seconds",
			Help:    "Duration of graph loads including cache lookups",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		GraphCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signals_questionnaire_graph_cache_hits_total",
			Help: "Graph loads served from cache",
		}),
		GraphCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signals_questionnaire_graph_cache_misses_total",
			Help: "Graph loads that went to the store",
		}),

		SessionsInvalidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_questionnaire_sessions_invalidated_total",
			Help: "Sessions invalidated by the cleanup sweep",
		}, []string{"flow"}),

		CompletionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_questionnaire_completions_total",
			Help: "Flow completion hook executions by flow, kind and outcome",
		}, []string{"flow", "kind", "outcome"}),
	}
}

func (m *Metrics) IncrementAnswer(flow, outcome string) {
	if m != nil {
		m.AnswersTotal.WithLabelValues(flow, outcome).Inc()
	}
}

func (m *Metrics) IncrementFreeze(flow, outcome string) {
	if m != nil {
		m.FreezeTotal.WithLabelValues(flow, outcome).Inc()
	}
}

// ObservePathCompute records the duration of one path walk.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObservePathCompute(start time.Time) {
	if m != nil {
		m.PathComputeDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveGraphLoad records a graph load and whether the cache served it.
func (m *Metrics) ObserveGraphLoad(start time.Time, cached bool) {
	if m == nil {
		return
	}
	m.GraphLoadDuration.Observe(time.Since(start).Seconds())
	if cached {
		m.GraphCacheHits.Inc()
	} else {
		m.GraphCacheMisses.Inc()
	}
}

func (m *Metrics) AddInvalidated(flow string, n int) {
	if m != nil && n > 0 {
		m.SessionsInvalidated.WithLabelValues(flow).Add(float64(n))
	}
}

func (m *Metrics) IncrementCompletion(flow, kind, outcome string) {
	if m != nil {
		m.CompletionsTotal.WithLabelValues(flow, kind, outcome).Inc()
	}
}
