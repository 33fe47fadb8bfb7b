package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QalaTech/speki-sub001/internal/event"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	runsStarted    *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageErrors    *prometheus.CounterVec
	verdicts       *prometheus.CounterVec
	tasksEnqueued  prometheus.Counter
	budgetRaises   prometheus.Counter
	handlerPanics  *prometheus.CounterVec
	subscriptionID []string
}

// NewPrometheusRecorder creates a recorder whose metrics are registered
// with reg. A nil reg uses the default registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speki_decompose_runs_started_total",
				Help: "Total number of decomposition runs started by operation",
			},
			[]string{"operation"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speki_decompose_runs_finished_total",
				Help: "Total number of decomposition runs finished by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "speki_stage_duration_seconds",
				Help:    "Duration of generation and review stage invocations",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"stage"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speki_stage_errors_total",
				Help: "Total number of failed stage invocations by error kind",
			},
			[]string{"stage", "kind"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speki_review_verdicts_total",
				Help: "Total number of review verdicts",
			},
			[]string{"verdict"},
		),
		tasksEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "speki_tasks_enqueued_total",
				Help: "Total number of approved tasks added to the execution queue",
			},
		),
		budgetRaises: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "speki_loop_budget_raises_total",
				Help: "Total number of times a running loop's iteration ceiling was raised",
			},
		),
		handlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speki_event_handler_panics_total",
				Help: "Total number of recovered panics in event handlers",
			},
			[]string{"event_type"},
		),
	}
}

// RunStarted implements Recorder.
func (p *PrometheusRecorder) RunStarted(operation string) {
	p.runsStarted.WithLabelValues(operation).Inc()
}

// RunFinished implements Recorder.
func (p *PrometheusRecorder) RunFinished(operation, outcome string) {
	p.runsFinished.WithLabelValues(operation, outcome).Inc()
}

// ObserveStage implements Recorder.
func (p *PrometheusRecorder) ObserveStage(stage string, duration time.Duration, errorKind string) {
	p.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if errorKind != "" {
		p.stageErrors.WithLabelValues(stage, errorKind).Inc()
	}
}

// ObserveVerdict implements Recorder.
func (p *PrometheusRecorder) ObserveVerdict(verdict string) {
	p.verdicts.WithLabelValues(verdict).Inc()
}

// ObservePanic counts a recovered event handler panic. Its signature
// matches event.PanicReporter.
func (p *PrometheusRecorder) ObservePanic(eventType string, _ any, _ []byte) {
	p.handlerPanics.WithLabelValues(eventType).Inc()
}

// Attach counts queue and loop events published on bus.
func (p *PrometheusRecorder) Attach(bus *event.Bus) {
	p.subscriptionID = append(p.subscriptionID,
		bus.Subscribe("queue.enqueued", func(e event.Event) {
			if ev, ok := e.(event.TasksEnqueuedEvent); ok {
				p.tasksEnqueued.Add(float64(len(ev.TaskIDs)))
			}
		}),
		bus.Subscribe("loop.budget_raised", func(event.Event) {
			p.budgetRaises.Inc()
		}),
	)
}

// Detach removes the subscriptions made by Attach.
func (p *PrometheusRecorder) Detach(bus *event.Bus) {
	for _, id := range p.subscriptionID {
		bus.Unsubscribe(id)
	}
	p.subscriptionID = nil
}
