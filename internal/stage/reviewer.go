package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/QalaTech/speki-sub001/internal/attempt"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/util"
)

// ClaudeReviewer implements Reviewer through an Invoker.
type ClaudeReviewer struct {
	invoker Invoker
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// NewReviewer creates a reviewer. A zero timeout means no limit.
func NewReviewer(invoker Invoker, timeout time.Duration, logger *logging.Logger) *ClaudeReviewer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ClaudeReviewer{invoker: invoker, timeout: timeout, logger: logger.WithStage("review"), now: time.Now}
}

type reviewOutput struct {
	Verdict string  `json:"verdict"`
	Summary string  `json:"summary"`
	Issues  []Issue `json:"issues"`
}

// Review implements Reviewer. An invocation failure is reported as a result
// with Success false rather than an error. Output that does not contain a
// recognizable verdict yields Verdict UNKNOWN.
func (r *ClaudeReviewer) Review(ctx context.Context, req ReviewRequest, cb Callbacks) (*ReviewResult, error) {
	if req.DraftPath == "" || req.LogDir == "" || req.Attempt < 1 {
		return nil, errors.NewValidationError("draft path, log directory and attempt are required")
	}
	if _, err := os.Stat(req.DraftPath); err != nil {
		return nil, errors.NewNotFoundError("draft", req.DraftPath).WithCause(err)
	}
	if err := os.MkdirAll(req.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attempt log directory: %w", err)
	}

	at := r.now()
	logPath := filepath.Join(req.LogDir, attempt.LogName(req.Attempt, at))
	rawPath := filepath.Join(req.LogDir, attempt.TranscriptName(req.Attempt, at))
	logger := r.logger.With("attempt", req.Attempt)

	// The attempt log is created up front so the ledger counts this attempt
	// even if the CLI never produces output.
	if err := os.WriteFile(logPath, nil, 0644); err != nil {
		return nil, fmt.Errorf("failed to create attempt log: %w", err)
	}
	raw, err := os.Create(rawPath)
	if err != nil {
		logger.Warn("failed to create transcript file", "error", err)
	} else {
		defer raw.Close()
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	inv := Invocation{
		Name:      "review",
		Dir:       req.WorkspaceRoot,
		Prompt:    buildReviewPrompt(req),
		Callbacks: cb,
	}
	if raw != nil {
		inv.Raw = raw
	}
	transcript, invokeErr := r.invoker.Invoke(ctx, inv)

	if transcript != nil {
		if err := os.WriteFile(logPath, []byte(transcript.Text), 0644); err != nil {
			logger.Warn("failed to write attempt log", "error", err)
		}
	}

	if invokeErr != nil {
		logger.Error("review invocation failed", "error", invokeErr)
		return &ReviewResult{
			Success:   false,
			Verdict:   statestore.VerdictUnknown,
			Issues:    []Issue{},
			LogPath:   logPath,
			Error:     invokeErr.Error(),
			ErrorKind: errors.ClassifyKind(invokeErr),
		}, nil
	}

	result := parseReview(transcript.Final())
	result.Success = true
	result.LogPath = logPath

	reviewPath := filepath.Join(req.LogDir, attempt.ReviewJSONName(at))
	if err := util.WriteJSON(reviewPath, newReviewArtifact(result)); err != nil {
		logger.Warn("failed to write review artifact", "error", err)
	} else {
		result.ReviewPath = reviewPath
	}

	logger.Info("review finished", "verdict", string(result.Verdict), "issues", len(result.Issues))
	return result, nil
}

// uncategorized groups issues the reviewer gave no category.
const uncategorized = "uncategorized"

// reviewArtifact is the decompose-review JSON file: the result plus its
// issues grouped by category.
type reviewArtifact struct {
	*ReviewResult
	IssuesByCategory map[string][]Issue `json:"issuesByCategory"`
}

func newReviewArtifact(result *ReviewResult) reviewArtifact {
	byCategory := make(map[string][]Issue)
	for _, is := range result.Issues {
		category := strings.ToLower(strings.TrimSpace(is.Category))
		if category == "" {
			category = uncategorized
		}
		byCategory[category] = append(byCategory[category], is)
	}
	return reviewArtifact{ReviewResult: result, IssuesByCategory: byCategory}
}

func parseReview(text string) *ReviewResult {
	result := &ReviewResult{Verdict: statestore.VerdictUnknown, Issues: []Issue{}}

	data, err := ExtractJSON(text)
	if err != nil {
		result.Summary = "Review output did not contain a structured verdict"
		return result
	}
	var out reviewOutput
	if err := json.Unmarshal(data, &out); err != nil {
		result.Summary = "Review output could not be parsed"
		return result
	}

	result.Verdict = statestore.ParseVerdict(out.Verdict)
	if result.Verdict == statestore.VerdictSkipped {
		result.Verdict = statestore.VerdictUnknown
	}
	result.Summary = out.Summary
	for _, is := range out.Issues {
		switch Severity(strings.ToLower(string(is.Severity))) {
		case SeverityCritical, SeverityWarning, SeverityInfo:
			is.Severity = Severity(strings.ToLower(string(is.Severity)))
		default:
			is.Severity = SeverityInfo
		}
		result.Issues = append(result.Issues, is)
	}
	return result
}

func buildReviewPrompt(req ReviewRequest) string {
	var sb strings.Builder

	sb.WriteString("You are peer-reviewing a task decomposition against its requirements document.\n\n")
	sb.WriteString(fmt.Sprintf("Requirements document: %s\n", req.SourceDocPath))
	sb.WriteString(fmt.Sprintf("Draft task list: %s\n", req.DraftPath))
	sb.WriteString(fmt.Sprintf("This is review attempt %d.\n\n", req.Attempt))

	sb.WriteString("## Check\n")
	sb.WriteString("1. Every requirement is covered by at least one task\n")
	sb.WriteString("2. No task invents scope the document does not ask for\n")
	sb.WriteString("3. Dependencies reference existing task IDs and contain no cycles\n")
	sb.WriteString("4. Acceptance criteria are concrete and testable\n\n")

	sb.WriteString("## Output\n")
	sb.WriteString("Do not modify any files. Finish with a single JSON object:\n")
	sb.WriteString(`{"verdict": "PASS|FAIL", "summary": "...", "issues": [`)
	sb.WriteString(`{"severity": "critical|warning|info", "description": "...", "taskIds": ["T-001"], `)
	sb.WriteString(`"suggestedFix": "...", "category": "coverage|scope|dependencies|criteria"}]}`)
	sb.WriteString("\nUse FAIL if any critical issue exists.\n")

	return sb.String()
}
