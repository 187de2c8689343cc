package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	registry      *prom.Registry
	taskDuration  *prom.HistogramVec
	taskResults   *prom.CounterVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	filesWritten  *prom.CounterVec
	reloads       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg, or on
// a fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sitepipe",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitepipe",
			Name:      "task_results_total",
			Help:      "Task run counts by outcome",
		}, []string{"task", "outcome"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "sitepipe",
			Name:      "build_duration_seconds",
			Help:      "Duration of whole graph runs",
			Buckets:   prom.DefBuckets,
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitepipe",
			Name:      "build_outcomes_total",
			Help:      "Graph runs by final status",
		}, []string{"outcome"})
		pr.filesWritten = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitepipe",
			Name:      "files_written_total",
			Help:      "Output files written per task",
		}, []string{"task"})
		pr.reloads = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitepipe",
			Name:      "reload_notifications_total",
			Help:      "Reload notifications sent to clients by kind",
		}, []string{"kind"})
		reg.MustRegister(pr.taskDuration, pr.taskResults, pr.buildDuration, pr.buildOutcome, pr.filesWritten, pr.reloads,
			collectors.NewGoCollector())
	})
	return pr
}

func (p *PrometheusRecorder) ObserveTask(task string, d time.Duration, outcome string) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
	p.taskResults.WithLabelValues(task, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuild(d time.Duration, failed bool) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) AddFilesWritten(task string, n int) {
	if p == nil || p.filesWritten == nil || n <= 0 {
		return
	}
	p.filesWritten.WithLabelValues(task).Add(float64(n))
}

func (p *PrometheusRecorder) IncReload(kind string) {
	if p == nil || p.reloads == nil {
		return
	}
	p.reloads.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.registry }

var _ Recorder = (*PrometheusRecorder)(nil)
