package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/taskset"
)

// ClaudeGenerator implements Generator through an Invoker.
type ClaudeGenerator struct {
	invoker Invoker
	timeout time.Duration
	logger  *logging.Logger
}

// NewGenerator creates a generator. A zero timeout means no limit.
func NewGenerator(invoker Invoker, timeout time.Duration, logger *logging.Logger) *ClaudeGenerator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ClaudeGenerator{invoker: invoker, timeout: timeout, logger: logger.WithStage("generation")}
}

// Generate implements Generator. The draft is taken from the final JSON in
// the CLI output, or from DraftPath if the CLI wrote the file itself, and is
// always rewritten to DraftPath after validation.
func (g *ClaudeGenerator) Generate(ctx context.Context, req GenerateRequest, cb Callbacks) (*GenerateResult, error) {
	if req.SourceDocPath == "" || req.DraftPath == "" {
		return nil, errors.NewValidationError("source document and draft path are required")
	}

	active, err := taskset.LoadOrEmpty(req.ActivePath)
	if err != nil {
		g.logger.Warn("ignoring unreadable active task list", "path", req.ActivePath, "error", err)
		active = &taskset.TaskSet{}
	}

	// A stale draft must not be mistaken for this run's output.
	if req.PreviousDraft == nil {
		os.Remove(req.DraftPath)
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	transcript, err := g.invoker.Invoke(ctx, Invocation{
		Name:      "generation",
		Dir:       req.WorkspaceRoot,
		Prompt:    buildGeneratePrompt(req, active),
		Callbacks: cb,
	})
	if err != nil {
		return nil, err
	}

	ts, err := g.readDraft(transcript, req.DraftPath)
	if err != nil {
		return nil, errors.NewStageError("generation", err).WithKind(errors.KindCrash)
	}
	if err := ts.Validate(); err != nil {
		return nil, errors.NewStageError("generation", err).WithKind(errors.KindCrash)
	}
	if len(ts.Tasks) == 0 {
		return nil, errors.NewStageError("generation", fmt.Errorf("generated task list is empty")).WithKind(errors.KindCrash)
	}
	if err := taskset.Save(req.DraftPath, ts); err != nil {
		return nil, fmt.Errorf("failed to write draft: %w", err)
	}

	g.logger.Info("draft generated",
		"tasks", len(ts.Tasks),
		"tool_calls", transcript.ToolCalls,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &GenerateResult{TaskSet: ts, DraftPath: req.DraftPath}, nil
}

func (g *ClaudeGenerator) readDraft(t *Transcript, draftPath string) (*taskset.TaskSet, error) {
	if data, err := ExtractJSON(t.Final()); err == nil {
		var ts taskset.TaskSet
		if err := json.Unmarshal(data, &ts); err == nil && len(ts.Tasks) > 0 {
			return &ts, nil
		}
	}
	ts, err := taskset.Load(draftPath)
	if err != nil {
		return nil, fmt.Errorf("no task list in output and no draft written: %w", err)
	}
	return ts, nil
}

func buildGeneratePrompt(req GenerateRequest, active *taskset.TaskSet) string {
	var sb strings.Builder

	sb.WriteString("You are decomposing a requirements document into implementation tasks.\n\n")
	sb.WriteString("## Source Document\n")
	sb.WriteString(fmt.Sprintf("Read the document at: %s\n\n", req.SourceDocPath))

	if len(active.Tasks) > 0 {
		sb.WriteString("## Existing Tasks\n")
		sb.WriteString("These tasks are already approved. Do not repeat them and do not reuse their IDs:\n")
		for _, t := range active.Tasks {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", t.ID, t.Title))
		}
		sb.WriteString("\n")
	}

	if req.PreviousDraft != nil {
		prev, _ := json.MarshalIndent(req.PreviousDraft, "", "  ")
		sb.WriteString("## Current Draft\n```json\n")
		sb.Write(prev)
		sb.WriteString("\n```\n\n")
	}
	if strings.TrimSpace(req.Feedback) != "" {
		sb.WriteString("## Reviewer Feedback\n")
		sb.WriteString("Revise the current draft to address this feedback:\n")
		sb.WriteString(req.Feedback)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Output\n")
	sb.WriteString(fmt.Sprintf("Write the task list as JSON to %s and finish with the same JSON as your final message.\n", req.DraftPath))
	sb.WriteString("Use this structure:\n")
	sb.WriteString(`{"projectName": "...", "branchName": "...", "language": "...", "description": "...", "tasks": [`)
	sb.WriteString(`{"id": "T-001", "title": "...", "description": "...", "acceptanceCriteria": ["..."], `)
	sb.WriteString(`"dependencies": ["T-000"], "complexity": "low|medium|high", "passes": false}]}`)
	sb.WriteString("\n\nEvery task must be independently verifiable. IDs must be unique.\n")

	return sb.String()
}
