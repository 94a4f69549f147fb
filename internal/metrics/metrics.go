// Package metrics exposes pipeline counters and latencies as Prometheus collectors registered on a
// caller-provided registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

const namespace = "examflow"

// Collector groups all pipeline metrics.
type Collector struct {
	calls        *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	parseStatus  *prometheus.CounterVec
	chunks       *prometheus.CounterVec
	runDuration  prometheus.Histogram
	unresolved   prometheus.Histogram
	crossPage    prometheus.Counter
	planFallback prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered, which
// keeps tests independent of each other.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_calls_total",
			Help:      "Vision capability call attempts by outcome.",
		}, []string{"outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vision_call_seconds",
			Help:      "Latency of vision capability call attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		}, []string{"outcome"}),
		parseStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_parsed_total",
			Help:      "Extraction responses by parse status and repair stage.",
		}, []string{"status", "stage"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Extraction chunks by kind and content type.",
		}, []string{"kind", "content_type"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_seconds",
			Help:      "Wall time of a full document run.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 9),
		}),
		unresolved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unresolved_questions",
			Help:      "Unresolved question numbers per document.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		crossPage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cross_page_resolved_total",
			Help:      "Questions whose choices were reassembled across a page boundary.",
		}),
		planFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "structure_plan_fallback_total",
			Help:      "Documents analysed with the page-count heuristic instead of the model plan.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.calls, c.callLatency, c.parseStatus, c.chunks, c.runDuration, c.unresolved, c.crossPage, c.planFallback)
	}
	return c
}

// ObserveCall implements vision.Observer.
func (c *Collector) ObserveCall(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(outcome).Inc()
	c.callLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveResult records one chunk's extraction outcome.
func (c *Collector) ObserveResult(res models.ExtractionResult) {
	if c == nil {
		return
	}
	c.parseStatus.WithLabelValues(string(res.ParseStatus), string(res.RepairStage)).Inc()
	c.chunks.WithLabelValues(string(res.ChunkKind), string(res.ContentType)).Inc()
}

// ObservePackage records document-level results.
func (c *Collector) ObservePackage(pkg *models.ResultPackage, elapsed time.Duration) {
	if c == nil || pkg == nil {
		return
	}
	c.runDuration.Observe(elapsed.Seconds())
	c.unresolved.Observe(float64(len(pkg.Unresolved)))
	c.crossPage.Add(float64(pkg.Report.CrossPageResolved))
	if pkg.Plan.Source == models.PlanFromHeuristic {
		c.planFallback.Inc()
	}
}
