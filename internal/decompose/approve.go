package decompose

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/taskqueue"
	"github.com/QalaTech/speki-sub001/internal/taskset"
	"github.com/QalaTech/speki-sub001/internal/util"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

// ApproveResult reports what an approval changed.
type ApproveResult struct {
	ArtifactID string         `json:"artifactId"`
	Added      []taskset.Task `json:"added"`
	Total      int            `json:"total"`
	ActivePath string         `json:"activePath"`
	Enqueued   int            `json:"enqueued"`
	LoopRaised bool           `json:"loopRaised"`
	Ceiling    int            `json:"ceiling,omitempty"`
}

// Approve merges the artifact's draft into its active task list and clears
// the draft. Tasks whose ids are already active are skipped. The added
// tasks are queued when auto-enqueue is on, and a loop running in the
// workspace has its iteration ceiling raised to cover the remaining work.
//
// A missing or empty draft is rejected with a validation error and nothing
// is changed.
func (o *Orchestrator) Approve(ctx context.Context, workspacePath, artifactID string) (ApproveResult, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return ApproveResult{}, err
	}
	if artifactID == "" {
		return ApproveResult{}, errors.NewValidationError("artifact id is required").WithField("artifact")
	}
	logger := o.logger.WithWorkspace(ws.ID()).WithArtifact(artifactID)

	claim := o.claim(ws.ID(), artifactID)
	claim.Lock()
	defer claim.Unlock()

	current, err := o.state(ctx, ws, artifactID)
	if err != nil {
		return ApproveResult{}, err
	}
	if current.Status.IsActive() {
		return ApproveResult{}, errors.Wrapf(errors.ErrRunActive, "%s is %s", artifactID, current.Status)
	}

	draftPath := ws.DraftPath(artifactID)
	draft, err := taskset.Load(draftPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ApproveResult{}, errors.NewValidationError("no draft to approve").
				WithField("artifact").WithValue(artifactID).WithCause(errors.ErrNoDraft)
		}
		return ApproveResult{}, errors.NewValidationError("draft is unreadable").
			WithField("artifact").WithValue(artifactID).WithCause(err)
	}
	if len(draft.Tasks) == 0 {
		return ApproveResult{}, errors.NewValidationError("draft has no tasks").
			WithField("artifact").WithValue(artifactID).WithCause(errors.ErrNoDraft)
	}
	if err := draft.Validate(); err != nil {
		return ApproveResult{}, err
	}

	activePath := ws.ActivePath(artifactID)
	active, err := taskset.LoadOrEmpty(activePath)
	if err != nil {
		return ApproveResult{}, err
	}
	inheritMetadata(active, draft)

	added := o.bridge.Merge(active, draft.Tasks)
	if err := taskset.Save(activePath, active); err != nil {
		return ApproveResult{}, err
	}
	if err := os.Remove(draftPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to clear draft after approval", "error", err)
	}

	result := ApproveResult{
		ArtifactID: artifactID,
		Added:      added,
		Total:      len(active.Tasks),
		ActivePath: activePath,
	}

	if o.enqueue {
		refs, err := o.bridge.Enqueue(taskqueue.New(ws.QueuePath()), ws.ID(), artifactID, added)
		if err != nil {
			logger.Warn("failed to enqueue approved tasks", "error", err)
		}
		result.Enqueued = len(refs)
	}
	result.LoopRaised, result.Ceiling = o.bridge.NotifyRunningLoop(ws.ID(), active.Incomplete())

	if r, err := o.reader(ws); err == nil {
		s := current
		s.DraftPath = ""
		s.Message = approvalMessage(len(added), len(active.Tasks))
		if err := r.Store().Set(ctx, artifactID, s); err != nil {
			logger.Warn("failed to record approval in state", "error", err)
		} else {
			o.publisher.State(ws.ID(), artifactID, s)
		}
	}

	logger.Info("draft approved", "added", len(added), "total", len(active.Tasks), "enqueued", result.Enqueued)
	return result, nil
}

func approvalMessage(added, total int) string {
	if added == 0 {
		return "Draft approved: all tasks were already active"
	}
	return fmt.Sprintf("Draft approved: %d task(s) added, %d active", added, total)
}

// inheritMetadata fills empty project fields of active from draft.
func inheritMetadata(active, draft *taskset.TaskSet) {
	if active.ProjectName == "" {
		active.ProjectName = draft.ProjectName
	}
	if active.BranchName == "" {
		active.BranchName = draft.BranchName
	}
	if active.Language == "" {
		active.Language = draft.Language
	}
	if active.Description == "" {
		active.Description = draft.Description
	}
}

// Feedback is the operator feedback recorded for an artifact.
type Feedback struct {
	Feedback  string    `json:"feedback"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveFeedback records feedback for an artifact, replacing any previous
// feedback.
func (o *Orchestrator) SaveFeedback(ctx context.Context, workspacePath, artifactID, feedback string) (Feedback, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return Feedback{}, err
	}
	if artifactID == "" {
		return Feedback{}, errors.NewValidationError("artifact id is required").WithField("artifact")
	}
	if strings.TrimSpace(feedback) == "" {
		return Feedback{}, errors.NewValidationError("feedback is required").WithField("feedback")
	}
	return saveFeedback(ws, artifactID, feedback, o.now())
}

// Feedback returns the recorded feedback for an artifact.
func (o *Orchestrator) Feedback(ctx context.Context, workspacePath, artifactID string) (Feedback, error) {
	ws, err := o.Resolve(workspacePath)
	if err != nil {
		return Feedback{}, err
	}
	var fb Feedback
	if err := util.ReadJSON(ws.FeedbackPath(artifactID), &fb); err != nil {
		if os.IsNotExist(err) {
			return Feedback{}, errors.NewNotFoundError("feedback", artifactID)
		}
		return Feedback{}, err
	}
	return fb, nil
}

func saveFeedback(ws workspace.Layout, artifactID, feedback string, now time.Time) (Feedback, error) {
	fb := Feedback{Feedback: feedback, Timestamp: now.UTC()}
	if err := util.WriteJSON(ws.FeedbackPath(artifactID), fb); err != nil {
		return Feedback{}, err
	}
	return fb, nil
}
