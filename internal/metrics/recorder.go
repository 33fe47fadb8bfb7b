// Package metrics records decomposition pipeline metrics.
package metrics

import "time"

// Run operations.
const (
	OpStart       = "start"
	OpRetryReview = "retry_review"
	OpRevise      = "revise"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
)

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// RunStarted counts a run accepted for operation.
	RunStarted(operation string)

	// RunFinished counts a run reaching a terminal state.
	RunFinished(operation, outcome string)

	// ObserveStage records one stage invocation. errorKind is empty on
	// success.
	ObserveStage(stage string, duration time.Duration, errorKind string)

	// ObserveVerdict counts a review verdict.
	ObserveVerdict(verdict string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) RunStarted(string) {}
func (n *NoopRecorder) RunFinished(string, string) {}
func (n *NoopRecorder) ObserveStage(string, time.Duration, string) {}
func (n *NoopRecorder) ObserveVerdict(string) {}
