package decompose

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/QalaTech/speki-sub001/internal/attempt"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/metrics"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/taskset"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

// run is one accepted pipeline run.
type run struct {
	id         string
	op         string
	ws         workspace.Layout
	artifactID string
	sourceDoc  string
	skipReview bool
	reviewOnly bool
	feedback   string
	attempt    int
	startedAt  time.Time

	store    *statestore.Reader
	logger   *logging.Logger
	last     statestore.State
	terminal bool
}

// execute runs the pipeline for r. The deferred guard writes ERROR if the
// run panics or returns without reaching a terminal state.
func (o *Orchestrator) execute(r *run, done chan struct{}) {
	ctx := context.Background()

	defer o.wg.Done()
	defer close(done)
	defer o.registry.Remove(r.ws.ID(), r.artifactID, r.id)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("run panicked", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			o.fail(ctx, r, errors.NewStageError("pipeline", fmt.Errorf("panic: %v", rec)).WithKind(errors.KindCrash))
			return
		}
		if !r.terminal {
			o.fail(ctx, r, errors.NewStageError("pipeline", fmt.Errorf("run ended without a result")).WithKind(errors.KindCrash))
		}
	}()

	if err := o.pipeline(ctx, r); err != nil {
		o.fail(ctx, r, err)
	}
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run) error {
	if r.reviewOnly {
		return o.review(ctx, r, r.attempt)
	}

	var previous *taskset.TaskSet
	if r.feedback != "" {
		draft, err := taskset.Load(r.ws.DraftPath(r.artifactID))
		if err != nil {
			return errors.NewStageError("generation", fmt.Errorf("load draft for revision: %w", err)).
				WithArtifact(r.artifactID).WithKind(errors.KindCrash)
		}
		previous = draft
	} else {
		if err := o.write(ctx, r, statestore.State{
			Status:  statestore.StatusDecomposing,
			Message: "Generating tasks...",
		}); err != nil {
			return err
		}
		moved, err := attempt.NewLedger(r.ws.AttemptLogDir).Archive(r.artifactID, r.startedAt)
		if err != nil {
			return err
		}
		if moved > 0 {
			r.logger.Info("archived previous review attempts", "files", moved)
		}
	}

	o.publisher.Log(r.ws.ID(), r.artifactID, fmt.Sprintf("Generating tasks from %s", r.ws.Rel(r.sourceDoc)))
	start := time.Now()
	res, err := o.generator.Generate(ctx, stage.GenerateRequest{
		WorkspaceRoot: r.ws.Root,
		SourceDocPath: r.sourceDoc,
		DraftPath:     r.ws.DraftPath(r.artifactID),
		ActivePath:    r.ws.ActivePath(r.artifactID),
		Feedback:      r.feedback,
		PreviousDraft: previous,
	}, o.callbacks(r))
	o.observeStage("generation", start, err)
	if err != nil {
		return stageFailure("generation", r.artifactID, err)
	}
	if res == nil || res.TaskSet == nil {
		return errors.NewStageError("generation", fmt.Errorf("no draft produced")).WithArtifact(r.artifactID)
	}
	o.publisher.Log(r.ws.ID(), r.artifactID, fmt.Sprintf("Draft created with %d tasks", len(res.TaskSet.Tasks)))

	if r.skipReview {
		return o.complete(ctx, r, res.DraftPath, len(res.TaskSet.Tasks), statestore.VerdictSkipped, nil, "")
	}

	n, err := attempt.NewLedger(r.ws.AttemptLogDir).Next(r.artifactID)
	if err != nil {
		return err
	}
	return o.review(ctx, r, n)
}

func (o *Orchestrator) review(ctx context.Context, r *run, n int) error {
	draftPath := r.ws.DraftPath(r.artifactID)
	if err := o.write(ctx, r, statestore.State{
		Status:    statestore.StatusReviewing,
		Message:   reviewMessage(n),
		DraftPath: draftPath,
		Attempt:   n,
	}); err != nil {
		return err
	}

	o.publisher.Log(r.ws.ID(), r.artifactID, reviewMessage(n))
	start := time.Now()
	res, err := o.reviewer.Review(ctx, stage.ReviewRequest{
		WorkspaceRoot: r.ws.Root,
		SourceDocPath: r.sourceDoc,
		DraftPath:     draftPath,
		Attempt:       n,
		LogDir:        r.ws.AttemptLogDir(r.artifactID),
	}, o.callbacks(r))
	if err == nil && res == nil {
		err = errors.NewStageError("review", fmt.Errorf("no review result")).WithKind(errors.KindCrash)
	}
	if err == nil && !res.Success {
		err = errors.NewStageError("review", errors.New(res.Error)).WithKind(reviewKind(res))
	}
	o.observeStage("review", start, err)
	if err != nil {
		return stageFailure("review", r.artifactID, err)
	}

	o.metrics.ObserveVerdict(string(res.Verdict))
	count := 0
	if ts, err := taskset.Load(draftPath); err == nil {
		count = len(ts.Tasks)
	} else {
		r.logger.Warn("failed to read draft for task count", "error", err)
	}
	return o.complete(ctx, r, draftPath, count, res.Verdict, res.Issues, res.ReviewPath)
}

// stageFailure attaches the artifact to a stage error, wrapping err in one
// if it is not already.
func stageFailure(name, artifactID string, err error) error {
	var se *errors.StageError
	if errors.As(err, &se) {
		if se.ArtifactID == "" {
			se.WithArtifact(artifactID)
		}
		return err
	}
	return errors.NewStageError(name, err).WithArtifact(artifactID)
}

func reviewKind(res *stage.ReviewResult) errors.Kind {
	if res.ErrorKind != "" {
		return res.ErrorKind
	}
	return errors.ClassifyKind(errors.New(res.Error))
}

func (o *Orchestrator) complete(ctx context.Context, r *run, draftPath string, count int, verdict statestore.Verdict, issues []stage.Issue, reviewPath string) error {
	s := statestore.State{
		Status:     statestore.StatusCompleted,
		Message:    completionMessage(count, verdict, issues),
		DraftPath:  draftPath,
		Verdict:    verdict,
		Attempt:    r.last.Attempt,
		ReviewPath: reviewPath,
	}
	if err := o.write(ctx, r, s); err != nil {
		return err
	}
	r.terminal = true

	o.publisher.Publish(r.ws.ID(), progress.ChannelComplete, progress.CompletePayload{
		Success:    true,
		StoryCount: count,
		OutputPath: draftPath,
		Verdict:    verdict,
		Issues:     issues,
		ArtifactID: r.artifactID,
	})
	o.metrics.RunFinished(r.op, metrics.OutcomeCompleted)
	r.logger.Info("run completed", "verdict", string(verdict), "tasks", count, "issues", len(issues))
	return nil
}

func completionMessage(count int, verdict statestore.Verdict, issues []stage.Issue) string {
	switch verdict {
	case statestore.VerdictPass:
		return fmt.Sprintf("Decomposition complete: %d tasks, review passed", count)
	case statestore.VerdictFail:
		return fmt.Sprintf("Review found %d issue(s) in %d tasks; revise or retry the review", len(issues), count)
	case statestore.VerdictSkipped:
		return fmt.Sprintf("Decomposition complete: %d tasks, review skipped", count)
	default:
		return fmt.Sprintf("Decomposition complete: %d tasks, review verdict unknown", count)
	}
}

// fail writes ERROR for r and publishes the failure. It is the only path
// to ERROR and never returns an error itself.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	kind := errors.ClassifyKind(cause)
	msg := failureMessage(kind)

	s := statestore.State{
		Status:    statestore.StatusError,
		Message:   msg,
		DraftPath: r.last.DraftPath,
		Attempt:   r.last.Attempt,
		Error:     cause.Error(),
		ErrorKind: kind,
	}
	if err := o.write(ctx, r, s); err != nil {
		r.logger.Error("failed to persist error state", "error", err, "cause", cause)
	}
	r.terminal = true

	o.publisher.Publish(r.ws.ID(), progress.ChannelError, progress.ErrorPayload{
		Error:      msg,
		Details:    fmt.Sprintf("%s: %v", kind, cause),
		ArtifactID: r.artifactID,
	})
	o.metrics.RunFinished(r.op, metrics.OutcomeError)
	r.logger.Error("run failed", "error_kind", string(kind), "error", cause)
}

func failureMessage(kind errors.Kind) string {
	switch kind {
	case errors.KindCLIUnavailable:
		return "Decomposition failed: the intelligence CLI is not available"
	case errors.KindTimeout:
		return "Decomposition failed: the stage timed out"
	default:
		return "Decomposition failed"
	}
}

// write persists s for r and publishes it. Fields that describe the run as
// a whole are carried over from r.
func (o *Orchestrator) write(ctx context.Context, r *run, s statestore.State) error {
	if s.SourceDocPath == "" {
		s.SourceDocPath = r.sourceDoc
	}
	if s.StartedAt == nil {
		started := r.startedAt
		s.StartedAt = &started
	}
	if s.DraftPath == "" && !s.Status.IsTerminal() {
		s.DraftPath = r.last.DraftPath
	}
	if s.Attempt == 0 {
		s.Attempt = r.last.Attempt
	}

	if err := r.store.Store().Set(ctx, r.artifactID, s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	r.last = s
	o.publisher.State(r.ws.ID(), r.artifactID, s)
	r.logger.Debug("state changed", "status", string(s.Status), "message", s.Message)
	return nil
}

func (o *Orchestrator) observeStage(name string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = string(errors.ClassifyKind(err))
	}
	o.metrics.ObserveStage(name, time.Since(start), kind)
}

// callbacks forwards stage progress to the log channel.
func (o *Orchestrator) callbacks(r *run) stage.Callbacks {
	ws := r.ws.ID()
	return stage.Callbacks{
		OnText: func(text string) {
			for _, line := range strings.Split(text, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					o.publisher.Log(ws, r.artifactID, line)
				}
			}
		},
		OnToolCall: func(name, detail string) {
			line := "[" + name + "]"
			if detail != "" {
				line += " " + detail
			}
			o.publisher.Log(ws, r.artifactID, line)
		},
		OnToolResult: func(detail string) {
			if detail != "" {
				o.publisher.Log(ws, r.artifactID, "  -> "+detail)
			}
		},
	}
}
