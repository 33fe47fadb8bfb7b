package stage

import (
	"context"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/taskset"
)

// Callbacks receive streaming progress from a stage. Every field is
// optional, and all calls happen before the stage returns.
type Callbacks struct {
	OnText       func(text string)
	OnToolCall   func(name, detail string)
	OnToolResult func(detail string)
}

func (c Callbacks) text(s string) {
	if c.OnText != nil && s != "" {
		c.OnText(s)
	}
}

func (c Callbacks) toolCall(name, detail string) {
	if c.OnToolCall != nil {
		c.OnToolCall(name, detail)
	}
}

func (c Callbacks) toolResult(detail string) {
	if c.OnToolResult != nil {
		c.OnToolResult(detail)
	}
}

// GenerateRequest describes one generation run.
type GenerateRequest struct {
	WorkspaceRoot string
	SourceDocPath string
	// DraftPath is where the draft task list is written.
	DraftPath string
	// ActivePath is the approved task list, read for ID continuity.
	ActivePath string
	// Feedback and PreviousDraft are set when revising.
	Feedback      string
	PreviousDraft *taskset.TaskSet
}

// GenerateResult is the outcome of a successful generation.
type GenerateResult struct {
	TaskSet   *taskset.TaskSet
	DraftPath string
}

// Generator produces a draft TaskSet from a document.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, cb Callbacks) (*GenerateResult, error)
}

// ReviewRequest describes one review attempt.
type ReviewRequest struct {
	WorkspaceRoot string
	SourceDocPath string
	DraftPath     string
	Attempt       int
	// LogDir receives the attempt log, transcript and review JSON.
	LogDir string
}

// Severity of a review issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is one finding from the review.
type Issue struct {
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	TaskIDs      []string `json:"taskIds,omitempty"`
	SuggestedFix string   `json:"suggestedFix,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// ReviewResult is the outcome of a review attempt. Success is false when the
// review could not be carried out at all; a completed review that rejects the
// draft has Success true and Verdict FAIL.
type ReviewResult struct {
	Success    bool               `json:"success"`
	Verdict    statestore.Verdict `json:"verdict"`
	Summary    string             `json:"summary,omitempty"`
	Issues     []Issue            `json:"issues"`
	LogPath    string             `json:"logPath,omitempty"`
	ReviewPath string             `json:"reviewPath,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  errors.Kind        `json:"errorKind,omitempty"`
}

// Reviewer checks a draft against its source document.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest, cb Callbacks) (*ReviewResult, error)
}
