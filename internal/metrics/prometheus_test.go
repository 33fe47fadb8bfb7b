package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QalaTech/speki-sub001/internal/event"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.RunStarted(OpStart)
	r.RunStarted(OpStart)
	r.RunFinished(OpStart, OutcomeCompleted)
	r.ObserveStage("generation", 3*time.Second, "")
	r.ObserveStage("review", time.Second, "TIMEOUT")
	r.ObserveVerdict("PASS")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsStarted.WithLabelValues(OpStart)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsFinished.WithLabelValues(OpStart, OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageErrors.WithLabelValues("review", "TIMEOUT")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.stageErrors.WithLabelValues("generation", "TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verdicts.WithLabelValues("PASS")))

	count, err := testutil.GatherAndCount(reg, "speki_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusRecorderAttach(t *testing.T) {
	r := NewPrometheusRecorder(prometheus.NewRegistry())
	bus := event.NewBus()
	r.Attach(bus)

	bus.Publish(event.NewTasksEnqueuedEvent("ws", "billing", []string{"T-1", "T-2"}))
	bus.Publish(event.NewBudgetRaisedEvent("ws", 5, 7))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tasksEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.budgetRaises))

	r.Detach(bus)
	assert.Equal(t, 0, bus.SubscriptionCount())
}

func TestPrometheusRecorderPanics(t *testing.T) {
	r := NewPrometheusRecorder(prometheus.NewRegistry())
	bus := event.NewBus()
	bus.SetPanicReporter(r.ObservePanic)
	bus.Subscribe("queue.enqueued", func(event.Event) { panic("boom") })

	bus.Publish(event.NewTasksEnqueuedEvent("ws", "billing", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.handlerPanics.WithLabelValues("queue.enqueued")))
}

func TestNop(t *testing.T) {
	r := Nop()
	r.RunStarted(OpStart)
	r.RunFinished(OpStart, OutcomeError)
	r.ObserveStage("review", time.Second, "CRASH")
	r.ObserveVerdict("FAIL")
}
